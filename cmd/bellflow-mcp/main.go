// Command bellflow-mcp exposes the bellflow job API as MCP tools over stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Mikkicon/bellflow/client"
	"github.com/Mikkicon/bellflow/models"
)

func main() {
	apiURL := os.Getenv("BELLFLOW_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("BELLFLOW_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "BELLFLOW_API_KEY is required")
		os.Exit(1)
	}

	api := client.New(apiURL, apiKey, &http.Client{Timeout: 10 * time.Minute})
	if err := server.ServeStdio(newServer(api)); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(api *client.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"bellflow",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeProfileTool := mcp.NewTool("scrape_profile",
		mcp.WithDescription("Collect recent posts from a social media profile page (Threads, X/Twitter, LinkedIn) with engagement metrics. Browser jobs return when finished; remote jobs return a job id to poll with get_job."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Profile page URL, e.g. https://www.threads.net/@user"),
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the logged-in browser profile to scrape with"),
		),
		mcp.WithString("engine",
			mcp.Description("'browser' drives a logged-in browser; 'brightdata' uses the remote provider. Defaults per platform."),
			mcp.Enum("browser", "brightdata"),
		),
		mcp.WithNumber("post_limit",
			mcp.Description("Maximum number of posts to return"),
		),
		mcp.WithNumber("time_limit",
			mcp.Description("Scroll time budget in seconds"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for remote jobs to finish before returning (default false)"),
		),
	)
	s.AddTool(scrapeProfileTool, handleScrapeProfile(api, 5*time.Second))

	getJobTool := mcp.NewTool("get_job",
		mcp.WithDescription("Get the status and progress of a scrape job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by scrape_profile")),
	)
	s.AddTool(getJobTool, handleGetJob(api))

	getResultsTool := mcp.NewTool("get_job_results",
		mcp.WithDescription("Get the posts collected by a completed scrape job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by scrape_profile")),
	)
	s.AddTool(getResultsTool, handleGetResults(api))

	cancelTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running scrape job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id to cancel")),
	)
	s.AddTool(cancelTool, handleCancelJob(api))

	listTool := mcp.NewTool("list_user_jobs",
		mcp.WithDescription("List a user's recent scrape jobs, most recent first"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose jobs are listed")),
		mcp.WithString("status",
			mcp.Description("Only jobs in this status"),
			mcp.Enum("pending", "running", "completed", "failed"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 100)")),
	)
	s.AddTool(listTool, handleListUserJobs(api))

	return s
}

func handleScrapeProfile(api *client.Client, pollEvery time.Duration) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		userID, err := request.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}

		req := &models.CreateJobRequest{
			URL:    url,
			UserID: userID,
			Engine: request.GetString("engine", ""),
		}
		if n := request.GetInt("post_limit", 0); n > 0 {
			req.PostLimit = models.IntPtr(n)
		}
		if n := request.GetInt("time_limit", 0); n > 0 {
			req.TimeLimit = models.IntPtr(n)
		}

		job, err := api.CreateJob(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape request failed: %v", err)), nil
		}
		if !job.Status.IsTerminal() && request.GetBool("wait", false) {
			if job, err = api.WaitForJob(ctx, job.JobID, pollEvery, nil); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("polling job failed: %v", err)), nil
			}
		}
		return mcp.NewToolResultText(formatJob(job)), nil
	}
}

func handleGetJob(api *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		job, err := api.GetJob(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get job failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatJob(job)), nil
	}
}

func handleGetResults(api *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		res, err := api.GetResults(ctx, id)
		var notReady *models.NotReadyError
		if errors.As(err, &notReady) {
			return mcp.NewToolResultText(fmt.Sprintf("Job %s is not completed yet (status: %s). Try again later.", id, notReady.Status)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get results failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatResult(res)), nil
	}
}

func handleCancelJob(api *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		ok, err := api.CancelJob(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		if !ok {
			return mcp.NewToolResultText(fmt.Sprintf("Job %s was not cancelled: it already finished or runs synchronously.", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Job %s cancelled.", id)), nil
	}
}

func handleListUserJobs(api *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := request.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		jobs, err := api.ListUserJobs(ctx, userID,
			models.JobStatus(request.GetString("status", "")), request.GetInt("limit", 0))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list jobs failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d jobs for %s\n", len(jobs), userID)
		for _, j := range jobs {
			fmt.Fprintf(&sb, "- %s [%s] %s %s\n", j.JobID, j.Status, j.Platform, j.URL)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// formatJob renders a job summary, with posts when it has completed.
func formatJob(job *models.ScrapeJob) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %s: %s\nPlatform: %s\nURL: %s\n", job.JobID, job.Status, job.Platform, job.URL)
	switch job.Status {
	case models.StatusFailed:
		fmt.Fprintf(&sb, "Error: %s\n", job.Error)
	case models.StatusCompleted:
		sb.WriteString("\n")
		sb.WriteString(formatResult(job.Result))
	default:
		if msg, ok := job.Progress["message"]; ok {
			fmt.Fprintf(&sb, "Progress: %v\n", msg)
		}
	}
	return sb.String()
}

func formatResult(res *models.ScrapeResult) string {
	if res == nil {
		return "No result.\n"
	}
	var sb strings.Builder
	if res.Error != "" {
		fmt.Fprintf(&sb, "Warning: %s\n", res.Error)
	}
	fmt.Fprintf(&sb, "%d posts:\n\n", res.TotalItems)
	body, err := json.MarshalIndent(res.Items, "", "  ")
	if err != nil {
		fmt.Fprintf(&sb, "failed to render posts: %v\n", err)
		return sb.String()
	}
	sb.Write(body)
	sb.WriteString("\n")
	return sb.String()
}
