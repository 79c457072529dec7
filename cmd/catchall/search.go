package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/orchestrator"
	"github.com/ternarybob/catchall/internal/planner"
	"github.com/ternarybob/catchall/internal/poll"
)

var (
	searchContext       string
	searchLimit         int
	searchPreset        string
	searchJobConfig     string
	searchMinValid      int
	searchMaxIterations int
)

var searchCmd = &cobra.Command{
	Use:   "search <intent>",
	Short: "Run a deep search session",
	Long: `Plans a job from the intent, submits it, polls it to completion and
reformulates the query until enough valid records are found or the
iteration budget is spent. The session is printed as JSON and saved for
later retrieval with "catchall sessions get".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchContext, "context", "", "Additional context for the query")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "Record limit for the first job (0 uses the configured default)")
	searchCmd.Flags().StringVar(&searchPreset, "preset", "", "Named preset of validators and enrichments")
	searchCmd.Flags().StringVar(&searchJobConfig, "job-config", "", "JSON file with an explicit job configuration")
	searchCmd.Flags().IntVar(&searchMinValid, "min-valid", 0, "Valid records required for success (0 uses the configured default)")
	searchCmd.Flags().IntVar(&searchMaxIterations, "max-iterations", 0, "Searches per session (0 uses the configured default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	intent := strings.Join(args, " ")

	var jobConfig *models.JobConfig
	if searchJobConfig != "" {
		cfg, err := readJobConfig(searchJobConfig)
		if err != nil {
			return err
		}
		jobConfig = cfg
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	outcome, runErr := application.Controller.Run(ctx, orchestrator.Request{
		Request: planner.Request{
			Intent:  intent,
			Context: searchContext,
			Limit:   searchLimit,
			Config:  jobConfig,
			Preset:  searchPreset,
		},
		MinValidRecords: searchMinValid,
		MaxIterations:   searchMaxIterations,
		OnProgress: func(p poll.Progress) {
			logger.Info().
				Str("job_id", p.JobID).
				Str("status", p.Status.String()).
				Int("step", p.CompletedSteps).
				Int("steps", p.TotalSteps).
				Int("records", p.Records).
				Dur("elapsed", p.Elapsed).
				Msg("Job progress")
		},
	})
	if outcome == nil {
		return runErr
	}

	if err := printJSON(cmd, outcome.Session(intent, runErr)); err != nil {
		return err
	}

	var exhausted *orchestrator.RetriesExhaustedError
	if errors.As(runErr, &exhausted) {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nNo sufficient results after %d attempts; best attempt had %d valid records\n",
			exhausted.Attempts, exhausted.Best.ValidRecords)
	}
	return runErr
}

func readJobConfig(path string) (*models.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job config %s: %w", path, err)
	}
	var cfg models.JobConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse job config %s: %w", path, err)
	}
	return &cfg, nil
}
