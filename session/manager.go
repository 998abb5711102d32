// Package session owns the persistent browser profiles, one directory per
// user, and keeps a registry of every open browser so shutdown can flush
// them all.
//
// Two sessions must not hold the same user's profile at once. The registry
// does not enforce this; callers serialize per user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/scraper"
)

// ErrClosed is returned by AcquireSession once CleanupAllSessions has run.
var ErrClosed = errors.New("session manager closed")

// Browser is a running browser bound to one profile directory.
type Browser interface {
	// OpenPage opens a new tab.
	OpenPage(ctx context.Context) (scraper.Page, error)

	// Close shuts the browser down, letting it flush the profile to disk.
	Close() error
}

// LaunchFunc starts a browser rooted at profileDir.
type LaunchFunc func(ctx context.Context, profileDir string, headless bool) (Browser, error)

// Session is one live hold on a user's profile.
type Session struct {
	ID         int64
	UserID     string
	ProfileDir string
	OpenedAt   time.Time
	Browser    Browser

	mgr      *Manager
	once     sync.Once
	closeErr error
}

// Close closes the browser and unregisters the session. It is safe to call
// more than once and from the shutdown path concurrently.
func (s *Session) Close() error {
	s.closeBrowser()
	s.mgr.ReleaseSession(s.ID)
	return s.closeErr
}

func (s *Session) closeBrowser() {
	s.once.Do(func() {
		s.closeErr = s.Browser.Close()
	})
}

// Info is a read-only view of a registered session.
type Info struct {
	ID       int64     `json:"session_id"`
	UserID   string    `json:"user_id"`
	OpenedAt time.Time `json:"opened_at"`
}

// Manager maps users to profile directories and tracks open sessions.
type Manager struct {
	baseDir string
	launch  LaunchFunc

	mu     sync.Mutex
	active map[int64]*Session
	closed bool
	nextID atomic.Int64
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(baseDir string, launch LaunchFunc) *Manager {
	return &Manager{
		baseDir: baseDir,
		launch:  launch,
		active:  make(map[int64]*Session),
	}
}

// BaseDir returns the root of all profile directories.
func (m *Manager) BaseDir() string { return m.baseDir }

// ProfileDir maps a user id to its profile directory. No I/O.
func (m *Manager) ProfileDir(userID string) string {
	return filepath.Join(m.baseDir, profileName(userID))
}

// ProfileExists reports whether the user's profile directory exists.
func (m *Manager) ProfileExists(userID string) bool {
	fi, err := os.Stat(m.ProfileDir(userID))
	return err == nil && fi.IsDir()
}

// AcquireSession opens a browser on the user's profile, creating the
// profile directory on first use, and registers the session. It fails with
// ErrClosed after CleanupAllSessions.
func (m *Manager) AcquireSession(ctx context.Context, userID string, headless bool) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "user_id is required", nil)
	}
	if m.isClosed() {
		return nil, errClosed()
	}
	dir := m.ProfileDir(userID)
	created := !m.ProfileExists(userID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create profile dir: %w", err)
	}

	browser, err := m.launch(ctx, dir, headless)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser for profile "+dir, err)
	}

	s := &Session{
		ID:         m.nextID.Add(1),
		UserID:     userID,
		ProfileDir: dir,
		OpenedAt:   time.Now(),
		Browser:    browser,
		mgr:        m,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		// Cleanup started while this browser was launching.
		if err := closeGuarded(s); err != nil {
			slog.Warn("closing late browser session failed", "user_id", userID, "error", err)
		}
		return nil, errClosed()
	}
	m.active[s.ID] = s
	m.mu.Unlock()

	slog.Info("browser session opened",
		"session_id", s.ID,
		"user_id", userID,
		"profile_dir", dir,
		"new_profile", created,
		"headless", headless,
	)
	return s, nil
}

// ReleaseSession unregisters a session. The browser must already be closed.
func (m *Manager) ReleaseSession(id int64) {
	m.mu.Lock()
	_, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if ok {
		slog.Debug("browser session released", "session_id", id)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func errClosed() error {
	return models.NewScrapeError(models.ErrCodeInternal, "browser sessions are shutting down", ErrClosed)
}

// CleanupAllSessions closes every registered session. A failing close is
// logged and does not stop the others. The registry is empty afterwards
// and no new sessions are granted.
func (m *Manager) CleanupAllSessions() {
	m.mu.Lock()
	m.closed = true
	snapshot := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	slog.Info("closing all browser sessions", "count", len(snapshot))

	for _, s := range snapshot {
		if err := closeGuarded(s); err != nil {
			slog.Error("failed to close browser session",
				"session_id", s.ID,
				"user_id", s.UserID,
				"error", err,
			)
			continue
		}
		slog.Info("browser session closed", "session_id", s.ID, "user_id", s.UserID)
	}

	m.mu.Lock()
	clear(m.active)
	m.mu.Unlock()
}

// closeGuarded turns a panicking driver close into an error.
func closeGuarded(s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	s.closeBrowser()
	return s.closeErr
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveSessions lists registered sessions ordered by id.
func (m *Manager) ActiveSessions() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, Info{ID: s.ID, UserID: s.UserID, OpenedAt: s.OpenedAt})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListProfiles returns the user ids that have a profile on disk.
func (m *Manager) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list profiles: %w", err)
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}

// DeleteProfile removes a user's profile from disk. It refuses while a
// session holds the profile.
func (m *Manager) DeleteProfile(userID string) error {
	if !m.ProfileExists(userID) {
		return models.NewScrapeError(models.ErrCodeProfileNotFound, "no profile for user "+userID, nil)
	}
	m.mu.Lock()
	for _, s := range m.active {
		if s.UserID == userID {
			m.mu.Unlock()
			return models.NewScrapeError(models.ErrCodeProfileInUse,
				fmt.Sprintf("profile %s is held by session %d", userID, s.ID), nil)
		}
	}
	m.mu.Unlock()

	if err := os.RemoveAll(m.ProfileDir(userID)); err != nil {
		return fmt.Errorf("session: delete profile: %w", err)
	}
	slog.Info("browser profile deleted", "user_id", userID)
	return nil
}

// CreateProfile opens a visible browser on the user's profile at loginURL
// and keeps it open until wait returns, so an operator can log in by hand.
// Cookies written during the login persist in the profile.
func (m *Manager) CreateProfile(ctx context.Context, userID, loginURL string, wait func(ctx context.Context) error) error {
	s, err := m.AcquireSession(ctx, userID, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("closing login session failed", "user_id", userID, "error", cerr)
		}
	}()

	page, err := s.Browser.OpenPage(ctx)
	if err != nil {
		return fmt.Errorf("session: open login page: %w", err)
	}
	if err := page.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("session: open %s: %w", loginURL, err)
	}
	return wait(ctx)
}

// profileName makes a user id safe to use as a single path element.
func profileName(userID string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(userID))
	if name == "" || name == "." || name == ".." {
		return "_" + name
	}
	return name
}
