package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikkicon/bellflow/models"
)

func failedJob() *models.ScrapeJob {
	j := models.NewScrapeJob("j1", "twitter", "https://x.com/alice", "alice", models.StatusFailed,
		time.Unix(1700000000, 0))
	j.Error = "Job cancelled by user"
	return j
}

func TestEventFor(t *testing.T) {
	ev := EventFor(failedJob())
	assert.Equal(t, EventJobFailed, ev.Type)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, int64(1700000000), ev.Timestamp)

	done := models.NewScrapeJob("j2", "threads", "u", "alice", models.StatusCompleted, time.Now())
	assert.Equal(t, EventJobCompleted, EventFor(done).Type)
}

func TestDeliver_SignsBody(t *testing.T) {
	var gotSig, gotUA string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	err := Deliver(context.Background(), srv.Client(), srv.URL, "s3cret", EventFor(failedJob()))
	require.NoError(t, err)

	assert.Equal(t, "Bellflow-Webhook/1.0", gotUA)
	assert.Equal(t, "sha256="+Sign("s3cret", gotBody), gotSig)

	var ev Event
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, EventJobFailed, ev.Type)
	assert.Equal(t, "Job cancelled by user", ev.Data.Error)
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, Deliver(context.Background(), srv.Client(), srv.URL, "", EventFor(failedJob())))
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := Deliver(context.Background(), srv.Client(), srv.URL, "", EventFor(failedJob()))
	assert.EqualError(t, err, "webhook: endpoint returned status 502")
}

func TestNotifier_RetriesUntilDelivered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier(srv.URL, "")
	var waited []time.Duration
	n.wait = func(d time.Duration) { waited = append(waited, d) }

	assert.True(t, n.deliverWithRetry(EventFor(failedJob())))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, waited)
}

func TestNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier(srv.URL, "")
	n.wait = func(time.Duration) {}

	assert.False(t, n.deliverWithRetry(EventFor(failedJob())))
	assert.Equal(t, int32(4), calls.Load())
}

func TestNotifier_NotifyIsAsync(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		got <- ev.Type
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier(srv.URL, "k")
	require.NoError(t, n.Notify(context.Background(), failedJob()))

	select {
	case typ := <-got:
		assert.Equal(t, EventJobFailed, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	running := models.NewScrapeJob("j3", "threads", "u", "alice", models.StatusRunning, time.Now())
	assert.NoError(t, n.Notify(context.Background(), running))
}
