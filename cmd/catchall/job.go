package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/poll"
	"github.com/ternarybob/catchall/internal/results"
)

var (
	jobContext   string
	jobLimit     int
	jobConfigArg string
	jobWait      bool
	jobPage      int
	jobPageSize  int
	jobPullAll   bool
	listPage     int
	listPageSize int
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Work with individual CatchAll jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit [query]",
	Short: "Submit a job",
	Long: `Submits a job from a query or an explicit JSON job configuration and
prints its id. With --wait the job is polled to completion and every
result page is printed.`,
	RunE: runJobSubmit,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current stage of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobPullCmd = &cobra.Command{
	Use:   "pull <job-id>",
	Short: "Pull results of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobPull,
}

var jobContinueCmd = &cobra.Command{
	Use:   "continue <job-id> <new-limit>",
	Short: "Raise the record limit of a job",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobContinue,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your jobs",
	RunE:  runJobList,
}

var jobPreviewCmd = &cobra.Command{
	Use:   "preview <query>",
	Short: "Suggest validators, enrichments and a date range for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobPreview,
}

func init() {
	jobSubmitCmd.Flags().StringVar(&jobContext, "context", "", "Additional context for the query")
	jobSubmitCmd.Flags().IntVarP(&jobLimit, "limit", "l", 0, "Record limit (0 uses the configured default)")
	jobSubmitCmd.Flags().StringVar(&jobConfigArg, "job-config", "", "JSON file with an explicit job configuration")
	jobSubmitCmd.Flags().BoolVarP(&jobWait, "wait", "w", false, "Poll the job to completion and print its results")

	jobPullCmd.Flags().IntVar(&jobPage, "page", 1, "Page number, starting at 1")
	jobPullCmd.Flags().IntVar(&jobPageSize, "page-size", 100, "Records per page (at most 100)")
	jobPullCmd.Flags().BoolVar(&jobPullAll, "all", false, "Pull every page")

	jobListCmd.Flags().IntVar(&listPage, "page", 1, "Page number, starting at 1")
	jobListCmd.Flags().IntVar(&listPageSize, "page-size", 20, "Jobs per page")

	jobPreviewCmd.Flags().StringVar(&jobContext, "context", "", "Additional context for the query")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobPullCmd)
	jobCmd.AddCommand(jobContinueCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobPreviewCmd)
}

func runJobSubmit(cmd *cobra.Command, args []string) error {
	var cfg models.JobConfig
	switch {
	case jobConfigArg != "":
		fromFile, err := readJobConfig(jobConfigArg)
		if err != nil {
			return err
		}
		cfg = *fromFile
	case len(args) > 0:
		cfg = models.JobConfig{Query: strings.Join(args, " "), Context: jobContext}
	default:
		return fmt.Errorf("a query or --job-config is required")
	}
	if jobLimit > 0 {
		cfg.Limit = jobLimit
	}
	if cfg.Limit == 0 {
		cfg.Limit = config.CatchAll.DefaultLimit
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	jobID, err := application.Client.Submit(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("job_id", jobID).Str("query", cfg.Query).Msg("Job submitted")

	if !jobWait {
		return printJSON(cmd, models.JobSubmission{JobID: jobID, Status: models.JobStatusSubmitted, Limit: cfg.Limit})
	}

	agg := results.NewAggregator()
	job, err := application.PollLoop.Run(ctx, jobID, agg, func(p poll.Progress) {
		logger.Info().
			Str("job_id", p.JobID).
			Str("status", p.Status.String()).
			Int("step", p.CompletedSteps).
			Int("steps", p.TotalSteps).
			Msg("Job progress")
	})
	if err != nil {
		// Partial results are still worth showing
		if agg.Len() > 0 {
			_ = printJSON(cmd, agg.Snapshot())
		}
		return err
	}
	snapshot := agg.Snapshot()
	snapshot.Status = job.Status
	return printJSON(cmd, snapshot)
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	job, err := application.Client.Status(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, job)
}

func runJobPull(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if jobPullAll {
		agg := results.NewAggregator()
		if err := application.PollLoop.PullAll(ctx, args[0], agg); err != nil {
			return err
		}
		return printJSON(cmd, agg.Snapshot())
	}

	rs, err := application.Client.Pull(ctx, args[0], jobPage, jobPageSize)
	if err != nil {
		return err
	}
	return printJSON(cmd, rs)
}

func runJobContinue(cmd *cobra.Command, args []string) error {
	newLimit, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid limit %q: %w", args[1], err)
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	submission, err := application.Client.Continue(ctx, args[0], newLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd, submission)
}

func runJobList(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	list, err := application.Client.ListJobs(ctx, listPage, listPageSize)
	if err != nil {
		return err
	}
	return printJSON(cmd, list)
}

func runJobPreview(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	preview, err := application.Client.Initialize(ctx, strings.Join(args, " "), jobContext)
	if err != nil {
		return err
	}
	return printJSON(cmd, preview)
}
