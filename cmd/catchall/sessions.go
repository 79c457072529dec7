package main

import (
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved deep search sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE:  runSessionsList,
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a session with its attempts and results",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsGet,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum sessions to list (0 lists all)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
}

// sessionSummary is a session without its records
type sessionSummary struct {
	ID           string `json:"id"`
	Intent       string `json:"intent"`
	State        string `json:"state"`
	Attempts     int    `json:"attempts"`
	Records      int    `json:"records"`
	WinningJobID string `json:"winning_job_id,omitempty"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	sessions, err := application.StorageManager.SessionStorage().ListSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:           s.ID,
			Intent:       s.Intent,
			State:        string(s.State),
			Attempts:     len(s.Attempts),
			Records:      s.Results.Len(),
			WinningJobID: s.WinningJobID,
			Error:        s.Error,
			UpdatedAt:    s.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return printJSON(cmd, summaries)
}

func runSessionsGet(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	session, err := application.StorageManager.SessionStorage().GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, session)
}
