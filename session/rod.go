package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/stealth"

	"github.com/Mikkicon/bellflow/scraper"
)

// RodLauncher launches Chromium with a persistent user-data-dir.
type RodLauncher struct {
	// Bin overrides the Chromium binary path.
	Bin string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool

	// Proxy routes all browser traffic through the given URL.
	Proxy string

	// Block is applied to every page the browser opens.
	Block scraper.BlockOptions

	// ExitGrace is how long Close waits for Chromium to exit on its own
	// before killing it. Default: 5s.
	ExitGrace time.Duration
}

const exitPollInterval = 100 * time.Millisecond

// Launch implements LaunchFunc.
func (l RodLauncher) Launch(ctx context.Context, profileDir string, headless bool) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The launcher is not bound to ctx: the browser outlives the request
	// that opened it and is closed explicitly by the session.
	ln := launcher.New().
		UserDataDir(profileDir).
		Headless(headless).
		NoSandbox(l.NoSandbox)

	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}
	if l.Proxy != "" {
		ln = ln.Proxy(l.Proxy)
	}

	ln.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	ln.Delete(flags.Flag("enable-automation"))
	ln.Set(flags.Flag("disable-features"), "TranslateUI")
	ln.Set(flags.Flag("disable-popup-blocking"))
	ln.Set(flags.Flag("disable-renderer-backgrounding"))
	ln.Set(flags.Flag("disable-background-timer-throttling"))
	ln.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	ln.Set(flags.Flag("disable-dev-shm-usage"))
	ln.Set(flags.Flag("no-first-run"))
	ln.Set(flags.Flag("no-default-browser-check"))

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	slog.Debug("chromium launched", "controlURL", controlURL, "profile_dir", profileDir, "pid", ln.PID())

	grace := l.ExitGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &rodBrowser{browser: browser, launcher: ln, block: l.Block, grace: grace}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	block    scraper.BlockOptions
	grace    time.Duration
}

// OpenPage opens a tab with the stealth script installed.
func (b *rodBrowser) OpenPage(ctx context.Context) (scraper.Page, error) {
	page, err := stealth.Page(b.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	// Detach the page from ctx's deadline; Page calls carry their own ctx.
	return scraper.NewRodPage(page.Context(context.Background()), b.block), nil
}

// Close asks Chromium to exit so it writes cookies and storage to the
// profile, and kills it only if it is still running after the grace period.
// launcher.Cleanup is never called: it deletes the user-data-dir.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	pid := b.launcher.PID()
	if !waitExit(processAlive, pid, b.grace, exitPollInterval) {
		slog.Warn("chromium did not exit in time, killing", "pid", pid, "grace", b.grace)
		b.launcher.Kill()
	}
	return err
}

// waitExit polls alive until the process is gone or grace runs out. It
// reports whether the process exited.
func waitExit(alive func(pid int) bool, pid int, grace, every time.Duration) bool {
	if pid == 0 {
		return true
	}
	deadline := time.Now().Add(grace)
	for alive(pid) {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(every)
	}
	return true
}

// processAlive sends signal 0 to pid. Platforms without signal 0 report
// the process as gone.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
