// Command bellctl is the operator CLI: it manages browser profiles on this
// host and drives scrape jobs through a bellflow server.
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Globals are flags shared by every command.
type Globals struct {
	APIURL      string `help:"bellflow server base URL" env:"BELLFLOW_API_URL" default:"http://127.0.0.1:8080"`
	APIKey      string `help:"API key for the bellflow server" env:"BELLFLOW_API_KEY"`
	ProfilesDir string `help:"Root of browser profile directories" env:"BELLFLOW_PROFILES_DIR" default:"./browser_profiles"`
	Debug       bool   `help:"Enable debug logging"`
}

// CLI is the bellctl command tree.
type CLI struct {
	Globals

	Profile struct {
		Create ProfileCreateCmd `cmd:"" help:"Open a visible browser on a user's profile to log in by hand"`
		List   ProfileListCmd   `cmd:"" help:"List browser profiles on this host"`
		Delete ProfileDeleteCmd `cmd:"" help:"Delete a user's browser profile"`
	} `cmd:"" help:"Manage persistent browser profiles"`

	Scrape ScrapeCmd `cmd:"" help:"Run a scrape job and wait for its result"`
	Jobs   JobsCmd   `cmd:"" help:"List a user's jobs"`
	Cancel CancelCmd `cmd:"" help:"Cancel a job"`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bellctl"),
		kong.Description("Operator CLI for bellflow."),
		kong.UsageOnError(),
	)

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if cli.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)
	slog.SetDefault(slog.New(logger))

	if err := ctx.Run(&cli.Globals); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}
