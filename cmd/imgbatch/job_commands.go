package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imgbatch/internal/jobstore"
	"imgbatch/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04:05"

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var waitTimeout time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <manifest>",
		Short: "Upload a CSV, XLSX or JSON manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				id, err := client.SubmitFile(cmd.Context(), args[0])
				if err != nil {
					var apiErr *apiError
					if errors.As(err, &apiErr) && apiErr.JobID != "" && jsonOutput {
						_ = printJSON(cmd, map[string]string{"jobId": apiErr.JobID, "error": apiErr.Message})
					}
					return err
				}

				status := &pipeline.JobStatus{JobID: id, Status: jobstore.StatusProcessing}
				if wait {
					waitCtx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
					defer cancel()
					status, err = waitForJob(waitCtx, client, id, 500*time.Millisecond)
					if err != nil {
						return err
					}
				}

				if jsonOutput {
					return printJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Submitted job %s\n", id)
				if wait {
					fmt.Fprintf(out, "Status: %s\n", jobStatusText(status.Status, shouldColorize(out)))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the job reaches a terminal status")
	cmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "Maximum time to wait with --wait")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func waitForJob(ctx context.Context, client *apiClient, id string, interval time.Duration) (*pipeline.JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := client.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if status.Status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", status.JobID, jobStatusText(status.Status, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its items and output URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				detail, err := client.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, detail)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(detail, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderJobDetail(detail *pipeline.JobDetail, colorize bool) string {
	var b strings.Builder
	job := detail.Job
	fmt.Fprintf(&b, "Job:     %s\n", job.ID)
	fmt.Fprintf(&b, "Status:  %s\n", jobStatusText(job.Status, colorize))
	fmt.Fprintf(&b, "Created: %s\n", job.CreatedAt.Local().Format(timeLayout))
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, "Done:    %s\n", job.CompletedAt.Local().Format(timeLayout))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:   %s\n", job.ErrorMessage)
	}
	if len(detail.Items) == 0 {
		return b.String()
	}

	rows := make([][]string, 0, len(detail.Items))
	var failures []string
	for _, item := range detail.Items {
		rows = append(rows, []string{
			strconv.Itoa(item.Position + 1),
			item.Name,
			string(item.State),
			strconv.Itoa(len(item.InputURLs)),
			strings.Join(item.OutputURLs, "\n"),
		})
		for _, failure := range item.Failures {
			failures = append(failures, fmt.Sprintf("  %s: %s (%s)", item.Name, failure.URL, failure.Reason))
		}
	}
	b.WriteString("\n")
	b.WriteString(renderTable([]column{
		{Header: "#", Align: alignRight},
		{Header: "Name", MaxWidth: 40},
		{Header: "State"},
		{Header: "Inputs", Align: alignRight},
		{Header: "Outputs"},
	}, rows))
	b.WriteString("\n")

	if len(failures) > 0 {
		b.WriteString("\n")
		for _, line := range renderSectionHeader("Failed images", colorize) {
			b.WriteString(line + "\n")
		}
		for _, line := range failures {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				jobs, err := client.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						jobStatusText(job.Status, colorize),
						strconv.Itoa(job.ItemCount),
						job.CreatedAt.Local().Format(timeLayout),
						job.ErrorMessage,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{Header: "Job"},
					{Header: "Status"},
					{Header: "Items", Align: alignRight},
					{Header: "Created"},
					{Header: "Error", MaxWidth: 60},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (processing, completed, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
