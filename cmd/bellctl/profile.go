package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/Mikkicon/bellflow/scraper"
	"github.com/Mikkicon/bellflow/session"
)

// ProfileCreateCmd opens a headful browser so an operator can log in.
type ProfileCreateCmd struct {
	UserID    string `arg:"" help:"User id that owns the profile"`
	URL       string `arg:"" help:"Login page to open"`
	NoSandbox bool   `help:"Disable Chrome's sandbox" env:"BELLFLOW_NO_SANDBOX"`
	Bin       string `help:"Chromium binary path" env:"BELLFLOW_BROWSER_BIN"`
}

func (c *ProfileCreateCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launcher := session.RodLauncher{Bin: c.Bin, NoSandbox: c.NoSandbox, Block: scraper.BlockOptions{}}
	sessions := session.NewManager(g.ProfilesDir, launcher.Launch)

	log.Info("opening browser", "user_id", c.UserID, "profile_dir", sessions.ProfileDir(c.UserID))
	err := sessions.CreateProfile(ctx, c.UserID, c.URL, waitForEnter(os.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	log.Info("profile saved", "user_id", c.UserID)
	return nil
}

// waitForEnter blocks until the operator presses Enter or ctx is done.
func waitForEnter(in io.Reader, out io.Writer) func(context.Context) error {
	return func(ctx context.Context) error {
		fmt.Fprintln(out, "Log in in the browser window, then press Enter here to save the profile.")
		done := make(chan error, 1)
		go func() {
			_, err := bufio.NewReader(in).ReadString('\n')
			if err == io.EOF {
				err = nil
			}
			done <- err
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

// ProfileListCmd lists profile directories.
type ProfileListCmd struct{}

func (c *ProfileListCmd) Run(g *Globals) error {
	return listProfiles(session.NewManager(g.ProfilesDir, nil), os.Stdout)
}

func listProfiles(sessions *session.Manager, out io.Writer) error {
	profiles, err := sessions.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(out, "no profiles in", sessions.BaseDir())
		return nil
	}
	for _, p := range profiles {
		fmt.Fprintln(out, p)
	}
	return nil
}

// ProfileDeleteCmd removes a profile directory.
type ProfileDeleteCmd struct {
	UserID string `arg:"" help:"User id whose profile is removed"`
}

func (c *ProfileDeleteCmd) Run(g *Globals) error {
	if err := session.NewManager(g.ProfilesDir, nil).DeleteProfile(c.UserID); err != nil {
		return err
	}
	log.Info("profile deleted", "user_id", c.UserID)
	return nil
}
