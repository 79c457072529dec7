package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/monitor"
)

var (
	monitorSchedule      string
	monitorTimezone      string
	monitorWebhookURL    string
	monitorWebhookMethod string
	monitorHeaders       map[string]string
	monitorParams        map[string]string
	monitorAuthUser      string
	monitorAuthPassword  string
	monitorJobConfig     string
	monitorOrder         string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Manage recurring monitors",
	Long: `Monitors re-run a completed reference job on a schedule and deliver each
run to a webhook. In local mode (monitor.mode = "local") monitors are
scheduled by "catchall serve"; the commands here only edit them.`,
}

var monitorCreateCmd = &cobra.Command{
	Use:   "create <reference-job-id>",
	Short: "Create a monitor from a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorCreate,
}

var monitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitors",
	RunE:  runMonitorList,
}

var monitorPullCmd = &cobra.Command{
	Use:   "pull <monitor-id>",
	Short: "Pull the results of the latest run",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorPull,
}

var monitorRunsCmd = &cobra.Command{
	Use:   "runs <monitor-id>",
	Short: "List the runs of a monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorRuns,
}

var monitorEnableCmd = &cobra.Command{
	Use:   "enable <monitor-id>",
	Short: "Resume scheduled runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorEnable,
}

var monitorDisableCmd = &cobra.Command{
	Use:   "disable <monitor-id>",
	Short: "Pause scheduled runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorDisable,
}

var monitorUpdateCmd = &cobra.Command{
	Use:   "update <monitor-id>",
	Short: "Replace the webhook of a monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorUpdate,
}

var monitorRunCmd = &cobra.Command{
	Use:   "run <monitor-id>",
	Short: "Run a local monitor now",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorRun,
}

func init() {
	addWebhookFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&monitorWebhookURL, "webhook-url", "", "Webhook URL that receives each run")
		cmd.Flags().StringVar(&monitorWebhookMethod, "webhook-method", "POST", "Webhook HTTP method (POST or PUT)")
		cmd.Flags().StringToStringVar(&monitorHeaders, "header", nil, "Webhook header as key=value (repeatable)")
		cmd.Flags().StringToStringVar(&monitorParams, "param", nil, "Webhook query parameter as key=value (repeatable)")
		cmd.Flags().StringVar(&monitorAuthUser, "auth-user", "", "Webhook basic auth username")
		cmd.Flags().StringVar(&monitorAuthPassword, "auth-password", "", "Webhook basic auth password")
	}

	monitorCreateCmd.Flags().StringVarP(&monitorSchedule, "schedule", "s", "", `Schedule, e.g. "every day at 12 PM UTC"`)
	monitorCreateCmd.Flags().StringVar(&monitorTimezone, "timezone", "", "Timezone when the schedule names none")
	monitorCreateCmd.Flags().StringVar(&monitorJobConfig, "job-config", "", "JSON file with the job configuration to freeze")
	addWebhookFlags(monitorCreateCmd)
	_ = monitorCreateCmd.MarkFlagRequired("schedule")

	addWebhookFlags(monitorUpdateCmd)
	_ = monitorUpdateCmd.MarkFlagRequired("webhook-url")

	monitorRunsCmd.Flags().StringVar(&monitorOrder, "order", "desc", "Sort order by start time (asc or desc)")

	monitorCmd.AddCommand(monitorCreateCmd)
	monitorCmd.AddCommand(monitorListCmd)
	monitorCmd.AddCommand(monitorPullCmd)
	monitorCmd.AddCommand(monitorRunsCmd)
	monitorCmd.AddCommand(monitorEnableCmd)
	monitorCmd.AddCommand(monitorDisableCmd)
	monitorCmd.AddCommand(monitorUpdateCmd)
	monitorCmd.AddCommand(monitorRunCmd)
}

func webhookFromFlags() *models.Webhook {
	if monitorWebhookURL == "" {
		return nil
	}
	hook := &models.Webhook{
		URL:     monitorWebhookURL,
		Method:  monitorWebhookMethod,
		Headers: monitorHeaders,
		Params:  monitorParams,
	}
	if monitorAuthUser != "" {
		hook.Auth = &models.BasicAuth{Username: monitorAuthUser, Password: monitorAuthPassword}
	}
	return hook
}

func runMonitorCreate(cmd *cobra.Command, args []string) error {
	req := monitor.CreateRequest{
		ReferenceJobID: args[0],
		Schedule:       monitorSchedule,
		Timezone:       monitorTimezone,
		Webhook:        webhookFromFlags(),
	}
	if monitorJobConfig != "" {
		cfg, err := readJobConfig(monitorJobConfig)
		if err != nil {
			return err
		}
		req.Config = cfg
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	monitorID, err := application.Monitors.Create(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{"monitor_id": monitorID})
}

func runMonitorList(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	monitors, err := application.Monitors.List(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, monitors)
}

func runMonitorPull(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result, err := application.Monitors.PullLatest(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runMonitorRuns(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	runs, err := application.Monitors.ListRuns(ctx, args[0], models.ParseSortOrder(monitorOrder))
	if err != nil {
		return err
	}
	return printJSON(cmd, runs)
}

func runMonitorEnable(cmd *cobra.Command, args []string) error {
	return toggleMonitor(cmd, args[0], true)
}

func runMonitorDisable(cmd *cobra.Command, args []string) error {
	return toggleMonitor(cmd, args[0], false)
}

func toggleMonitor(cmd *cobra.Command, monitorID string, enabled bool) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if enabled {
		err = application.Monitors.Enable(ctx, monitorID)
	} else {
		err = application.Monitors.Disable(ctx, monitorID)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{"monitor_id": monitorID, "enabled": enabled})
}

func runMonitorUpdate(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	updated, err := application.Monitors.Update(ctx, args[0], webhookFromFlags())
	if err != nil {
		return err
	}
	return printJSON(cmd, updated)
}

func runMonitorRun(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	if application.LocalMonitors == nil {
		return fmt.Errorf("manual runs need monitor.mode = %q", "local")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	run, err := application.LocalMonitors.RunNow(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, run)
}
