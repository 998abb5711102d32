package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikkicon/bellflow/client"
	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/session"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func finished() *models.ScrapeJob {
	j := models.NewScrapeJob("j1", "threads", "https://www.threads.net/@a", "u1", models.StatusCompleted, now)
	j.Result = &models.ScrapeResult{
		Items: []models.Post{
			{Text: "first\npost", Likes: models.IntPtr(488), Comments: models.IntPtr(55), Reposts: models.IntPtr(12)},
			{Text: "second"},
		},
		TotalItems:  2,
		ElapsedTime: 12.34,
	}
	return j
}

func TestScrapeCmd_RequestMapping(t *testing.T) {
	c := &ScrapeCmd{URL: "https://x.com/a", UserID: "u1", PostLimit: 10, Headful: true, Dedupe: true}
	req := c.request()
	assert.Equal(t, 10, *req.PostLimit)
	assert.Nil(t, req.TimeLimit)
	require.NotNil(t, req.Options.Headless)
	assert.False(t, *req.Options.Headless)
	assert.True(t, req.Options.Dedupe)
}

func TestScrapeCmd_PollsAsyncJob(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			job := models.NewScrapeJob("j1", "linkedin", "https://www.linkedin.com/in/a", "u1", models.StatusRunning, now)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(models.JobResponse{Success: true, Job: job})
			return
		}
		job := models.NewScrapeJob("j1", "linkedin", "https://www.linkedin.com/in/a", "u1", models.StatusRunning, now)
		job.Progress = map[string]any{"message": "Snapshot not ready yet"}
		if polls.Add(1) > 1 {
			job = finished()
		}
		_ = json.NewEncoder(w).Encode(models.JobResponse{Success: true, Job: job})
	}))
	defer srv.Close()

	var out bytes.Buffer
	c := &ScrapeCmd{URL: "https://www.linkedin.com/in/a", UserID: "u1", Poll: time.Millisecond}
	require.NoError(t, c.run(context.Background(), client.New(srv.URL, "", nil), &out))

	assert.Contains(t, out.String(), "job j1: completed")
	assert.Contains(t, out.String(), "2 posts in 12.3s")
	assert.Contains(t, out.String(), "first post")
}

func TestPrintJob_Failed(t *testing.T) {
	j := models.NewScrapeJob("j1", "threads", "https://www.threads.net/@a", "u1", models.StatusFailed, now)
	j.Error = "failed to open browser session: boom"

	var out bytes.Buffer
	err := printJob(&out, j)
	assert.EqualError(t, err, "job failed: failed to open browser session: boom")
}

func TestPrintJob_Metrics(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJob(&out, finished()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"488", "55", "12", "first", "post"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"-", "-", "-", "second"}, strings.Fields(lines[4]))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet("a\nb", 10))
	assert.Equal(t, "abc…", snippet("abcdefgh", 4))
}

func TestWaitForEnter(t *testing.T) {
	var prompt bytes.Buffer
	require.NoError(t, waitForEnter(strings.NewReader("\n"), &prompt)(context.Background()))
	assert.Contains(t, prompt.String(), "press Enter")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitForEnter(r, &prompt)(ctx), context.Canceled)
}

func TestListProfiles(t *testing.T) {
	dir := t.TempDir()
	sessions := session.NewManager(dir, nil)

	var out bytes.Buffer
	require.NoError(t, listProfiles(sessions, &out))
	assert.Contains(t, out.String(), "no profiles in")

	require.NoError(t, os.Mkdir(filepath.Join(dir, "bob"), 0o755))
	out.Reset()
	require.NoError(t, listProfiles(sessions, &out))
	assert.Equal(t, "bob\n", out.String())
}
