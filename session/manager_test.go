package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/scraper"
)

type fakeBrowser struct {
	mu       sync.Mutex
	closes   int
	closeErr error
	panics   bool
	page     *stubPage
}

func (b *fakeBrowser) OpenPage(context.Context) (scraper.Page, error) {
	if b.page == nil {
		b.page = &stubPage{}
	}
	return b.page, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	if b.panics {
		panic("browser already gone")
	}
	return b.closeErr
}

type stubPage struct{ navigated []string }

func (p *stubPage) Navigate(_ context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}
func (p *stubPage) Count(context.Context, string) (int, error) { return 0, nil }
func (p *stubPage) ScrollTo(context.Context, int, int) error { return nil }
func (p *stubPage) ScrollToBottom(context.Context) error { return nil }
func (p *stubPage) Extract(context.Context, string) ([]scraper.RawPost, error) { return nil, nil }
func (p *stubPage) Close() error { return nil }

// fakeLauncher hands out browsers in order and records launch arguments.
type fakeLauncher struct {
	mu       sync.Mutex
	browsers []*fakeBrowser
	dirs     []string
	headless []bool
	err      error
}

func (l *fakeLauncher) launch(_ context.Context, dir string, headless bool) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.dirs = append(l.dirs, dir)
	l.headless = append(l.headless, headless)
	b := &fakeBrowser{}
	if len(l.browsers) > len(l.dirs)-1 {
		b = l.browsers[len(l.dirs)-1]
	}
	return b, nil
}

func TestProfileDir(t *testing.T) {
	m := NewManager("/var/profiles", nil)
	assert.Equal(t, "/var/profiles/alice", m.ProfileDir("alice"))
	assert.Equal(t, "/var/profiles/a_b", m.ProfileDir("a/b"))
	assert.Equal(t, "/var/profiles/_..", m.ProfileDir(".."))
}

func TestAcquireSession_CreatesProfileAndRegisters(t *testing.T) {
	base := t.TempDir()
	fl := &fakeLauncher{}
	m := NewManager(base, fl.launch)

	assert.False(t, m.ProfileExists("alice"))
	s, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)

	assert.True(t, m.ProfileExists("alice"))
	assert.Equal(t, filepath.Join(base, "alice"), s.ProfileDir)
	assert.Equal(t, []string{filepath.Join(base, "alice")}, fl.dirs)
	assert.Equal(t, []bool{true}, fl.headless)
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, "alice", m.ActiveSessions()[0].UserID)

	require.NoError(t, s.Close())
	assert.Zero(t, m.ActiveCount())
	assert.True(t, m.ProfileExists("alice"), "closing a session never deletes the profile")
}

func TestAcquireSession_IDsAreUniquePerAcquisition(t *testing.T) {
	m := NewManager(t.TempDir(), (&fakeLauncher{}).launch)

	s1, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)

	assert.Greater(t, s2.ID, s1.ID)
}

func TestAcquireSession_LaunchFailure(t *testing.T) {
	m := NewManager(t.TempDir(), (&fakeLauncher{err: errors.New("chromium not found")}).launch)

	_, err := m.AcquireSession(context.Background(), "alice", true)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeBrowserCrash, models.ErrorCode(err))
	assert.Zero(t, m.ActiveCount())
}

func TestAcquireSession_RequiresUser(t *testing.T) {
	m := NewManager(t.TempDir(), (&fakeLauncher{}).launch)
	_, err := m.AcquireSession(context.Background(), " ", true)
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))
}

func TestSessionClose_Idempotent(t *testing.T) {
	b := &fakeBrowser{}
	m := NewManager(t.TempDir(), (&fakeLauncher{browsers: []*fakeBrowser{b}}).launch)

	s, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, b.closes)
}

func TestReleaseSession_OnlyUnregisters(t *testing.T) {
	b := &fakeBrowser{}
	m := NewManager(t.TempDir(), (&fakeLauncher{browsers: []*fakeBrowser{b}}).launch)

	s, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)
	m.ReleaseSession(s.ID)
	assert.Zero(t, m.ActiveCount())
	assert.Zero(t, b.closes)

	m.ReleaseSession(12345)
}

func TestCleanupAllSessions_ToleratesFailures(t *testing.T) {
	good1 := &fakeBrowser{}
	bad := &fakeBrowser{closeErr: errors.New("target closed")}
	panicky := &fakeBrowser{panics: true}
	good2 := &fakeBrowser{}
	fl := &fakeLauncher{browsers: []*fakeBrowser{good1, bad, panicky, good2}}
	m := NewManager(t.TempDir(), fl.launch)

	var sessions []*Session
	for _, u := range []string{"a", "b", "c", "d"} {
		s, err := m.AcquireSession(context.Background(), u, true)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	require.Equal(t, 4, m.ActiveCount())

	m.CleanupAllSessions()

	assert.Zero(t, m.ActiveCount())
	for _, b := range []*fakeBrowser{good1, bad, panicky, good2} {
		assert.Equal(t, 1, b.closes)
	}

	// The engine's deferred close after shutdown is a no-op.
	assert.NoError(t, sessions[0].Close())
	assert.Equal(t, 1, good1.closes)
	assert.EqualError(t, sessions[1].Close(), "target closed")
}

func TestCleanupAllSessions_RefusesNewSessions(t *testing.T) {
	fl := &fakeLauncher{}
	m := NewManager(t.TempDir(), fl.launch)

	m.CleanupAllSessions()

	_, err := m.AcquireSession(context.Background(), "alice", true)
	require.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, m.ActiveCount())
	assert.Empty(t, fl.dirs, "no browser is launched after cleanup")
}

func TestAcquireSession_LaunchRacingCleanupIsClosed(t *testing.T) {
	b := &fakeBrowser{}
	m := NewManager(t.TempDir(), nil)
	m.launch = func(context.Context, string, bool) (Browser, error) {
		m.CleanupAllSessions()
		return b, nil
	}

	_, err := m.AcquireSession(context.Background(), "alice", true)
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, b.closes)
	assert.Zero(t, m.ActiveCount())
}

func TestListAndDeleteProfiles(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base, (&fakeLauncher{}).launch)

	users, err := m.ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, os.MkdirAll(m.ProfileDir("bob"), 0o700))
	require.NoError(t, os.MkdirAll(m.ProfileDir("alice"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o600))

	users, err = m.ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	s, err := m.AcquireSession(context.Background(), "alice", true)
	require.NoError(t, err)
	err = m.DeleteProfile("alice")
	assert.Equal(t, models.ErrCodeProfileInUse, models.ErrorCode(err))
	require.NoError(t, s.Close())

	require.NoError(t, m.DeleteProfile("alice"))
	assert.False(t, m.ProfileExists("alice"))
	assert.Equal(t, models.ErrCodeProfileNotFound, models.ErrorCode(m.DeleteProfile("alice")))
}

func TestListProfiles_MissingBaseDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"), nil)
	users, err := m.ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestCreateProfile(t *testing.T) {
	b := &fakeBrowser{}
	fl := &fakeLauncher{browsers: []*fakeBrowser{b}}
	m := NewManager(t.TempDir(), fl.launch)

	waited := false
	err := m.CreateProfile(context.Background(), "carol", "https://www.threads.net/login", func(context.Context) error {
		waited = true
		assert.Equal(t, 1, m.ActiveCount())
		return nil
	})
	require.NoError(t, err)

	assert.True(t, waited)
	assert.Equal(t, []bool{false}, fl.headless)
	assert.Equal(t, []string{"https://www.threads.net/login"}, b.page.navigated)
	assert.Equal(t, 1, b.closes)
	assert.Zero(t, m.ActiveCount())
	assert.True(t, m.ProfileExists("carol"))
}
