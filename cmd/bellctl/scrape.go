package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/log"

	"github.com/Mikkicon/bellflow/client"
	"github.com/Mikkicon/bellflow/models"
)

// ScrapeCmd submits a job and waits for it.
type ScrapeCmd struct {
	URL       string        `arg:"" help:"Profile page to scrape"`
	UserID    string        `help:"Browser profile to scrape with" required:""`
	Platform  string        `help:"Platform name; detected from the URL when empty"`
	Engine    string        `help:"Engine: browser or brightdata; platform default when empty"`
	PostLimit int           `help:"Maximum number of posts (0 = no limit)"`
	TimeLimit int           `help:"Scroll time budget in seconds (0 = no limit)"`
	Headful   bool          `help:"Show the browser window"`
	Dedupe    bool          `help:"Drop near-duplicate posts"`
	Poll      time.Duration `help:"Poll interval for async jobs" default:"5s"`
	JSON      bool          `help:"Print the raw job as JSON"`
}

func (c *ScrapeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, client.New(g.APIURL, g.APIKey, nil), os.Stdout)
}

func (c *ScrapeCmd) request() *models.CreateJobRequest {
	req := &models.CreateJobRequest{
		URL:      c.URL,
		UserID:   c.UserID,
		Platform: c.Platform,
		Engine:   c.Engine,
		Options:  models.ScrapeOptions{Dedupe: c.Dedupe},
	}
	if c.PostLimit > 0 {
		req.PostLimit = models.IntPtr(c.PostLimit)
	}
	if c.TimeLimit > 0 {
		req.TimeLimit = models.IntPtr(c.TimeLimit)
	}
	if c.Headful {
		headless := false
		req.Options.Headless = &headless
	}
	return req
}

func (c *ScrapeCmd) run(ctx context.Context, api *client.Client, out io.Writer) error {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " scraping " + c.URL
	s.Start()
	defer s.Stop()

	job, err := api.CreateJob(ctx, c.request())
	if err != nil {
		return err
	}
	log.Debug("job submitted", "job_id", job.JobID, "status", job.Status)

	if !job.Status.IsTerminal() {
		job, err = api.WaitForJob(ctx, job.JobID, c.Poll, func(j *models.ScrapeJob) {
			if msg, ok := j.Progress["message"]; ok {
				s.Suffix = fmt.Sprintf(" %s: %v", j.Status, msg)
			}
		})
		if err != nil {
			return err
		}
	}
	s.Stop()

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	return printJob(out, job)
}

func printJob(out io.Writer, job *models.ScrapeJob) error {
	fmt.Fprintf(out, "job %s: %s\n", job.JobID, job.Status)
	if job.Status == models.StatusFailed {
		return fmt.Errorf("job failed: %s", job.Error)
	}
	res := job.Result
	if res.Error != "" {
		fmt.Fprintf(out, "warning: %s\n", res.Error)
	}
	fmt.Fprintf(out, "%d posts in %.1fs\n", res.TotalItems, res.ElapsedTime)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LIKES\tCOMMENTS\tREPOSTS\tTEXT")
	for _, p := range res.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", count(p.Likes), count(p.Comments), count(p.Reposts), snippet(p.Text, 60))
	}
	return tw.Flush()
}

func count(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func snippet(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r[i] = ' '
		}
	}
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// JobsCmd lists a user's jobs.
type JobsCmd struct {
	UserID string `arg:"" help:"User whose jobs are listed"`
	Status string `help:"Only jobs in this status (pending, running, completed, failed)"`
	Limit  int    `help:"Maximum number of jobs" default:"20"`
}

func (c *JobsCmd) Run(g *Globals) error {
	jobs, err := client.New(g.APIURL, g.APIKey, nil).ListUserJobs(context.Background(), c.UserID, models.JobStatus(c.Status), c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tPLATFORM\tCREATED\tURL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.JobID, j.Status, j.Platform, j.CreatedAt.Format(time.RFC3339), j.URL)
	}
	return tw.Flush()
}

// CancelCmd cancels a job.
type CancelCmd struct {
	JobID string `arg:"" help:"Job to cancel"`
}

func (c *CancelCmd) Run(g *Globals) error {
	ok, err := client.New(g.APIURL, g.APIKey, nil).CancelJob(context.Background(), c.JobID)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("job already finished or cannot be cancelled")
		return nil
	}
	fmt.Println("job cancelled")
	return nil
}
