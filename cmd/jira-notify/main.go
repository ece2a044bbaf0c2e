package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skyofdwarf/jira-notify/internal/channels"
	"github.com/skyofdwarf/jira-notify/internal/config"
	"github.com/skyofdwarf/jira-notify/internal/flagutil"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/compare"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/jira"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/notify"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/registry"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/service"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/ui"
)

var version = "dev"

var (
	jiraOptions   flagutil.JiraOptions
	logLevel      string
	storageDriver string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jira-notify",
		Short: "Get notified about changes in issues matching a saved Jira filter",
		Long: `jira-notify polls a saved Jira filter and notifies you about issues that newly
entered it and issues that were updated since the last poll.

Notifications go to the first configured channel that accepts them: a Slack webhook,
a Telegram bot or the desktop notification center. Channels are configured in
channels.yaml in the configuration directory.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	jiraOptions.AddPFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newWatchCmd(),
		newInspectCmd(),
		newListCmd(),
		newDeleteCmd(),
		newStatusCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Use fang to execute the command
	if err := fang.Execute(ctx, rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func setupLogging() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return nil
}

func newWatchCmd() *cobra.Command {
	var opts flagutil.WatchOptions

	cmd := &cobra.Command{
		Use:   "watch <filter-id> [interval-seconds] [browser] [test]",
		Short: "Watch a filter and send notifications about its changes",
		Long: `Watch a saved Jira filter until interrupted.

The first poll of a filter without a stored snapshot only records the baseline. Every
following poll reports issues that entered the filter and issues updated since the
previous poll. Intervals below 300 seconds are raised to 300 unless "test" is given.`,
		Args: cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.ApplyArgs(args); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return runWatch(cmd.Context(), &opts)
		},
	}

	opts.AddPFlags(cmd.Flags())

	return cmd
}

func newInspectCmd() *cobra.Command {
	var maxResults int
	var recencyWindow time.Duration

	cmd := &cobra.Command{
		Use:   "inspect <filter-id>",
		Short: "Show what the next poll of a watched filter would report",
		Long: `Fetch the filter and compare it with the stored snapshot without notifying or saving
anything. The result is shown in an interactive table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flagutil.ValidateFilterID(args[0]); err != nil {
				return err
			}
			return runInspect(cmd.Context(), args[0], maxResults, recencyWindow)
		},
	}

	cmd.Flags().IntVar(&maxResults, "max-results", flagutil.DefaultMaxResults, "Maximum number of issues fetched from the filter")
	cmd.Flags().DurationVar(&recencyWindow, "recency-window", compare.DefaultRecencyWindow, "Issues entering the filter are reported as new only if created within this window")
	addStorageFlag(cmd)

	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored filter snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
	addStorageFlag(cmd)

	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <filter-id>",
		Short: "Delete the stored snapshot of a filter",
		Long: `Delete the stored snapshot of a filter. The next watch of the filter starts with a
fresh baseline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flagutil.ValidateFilterID(args[0]); err != nil {
				return err
			}
			return runDelete(args[0])
		},
	}
	addStorageFlag(cmd)

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List running watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func addStorageFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&storageDriver, "storage", storage.DriverFile, "Snapshot storage driver (file, sqlite)")
}

func openBackend(driver string) (storage.Backend, error) {
	dataDir, err := storage.DataDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine data directory: %w", err)
	}

	backend, err := storage.Open(driver, dataDir)
	if err != nil {
		return nil, fmt.Errorf("cannot open snapshot storage: %w", err)
	}
	return backend, nil
}

func createJiraClient(opts jira.Options) (*jira.Client, error) {
	// Copy pflag values to JiraOptions
	jiraOptions.SetFromPFlags()

	if err := jiraOptions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid JIRA options: %w", err)
	}

	client, err := jira.NewClient(jiraOptions, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot create JIRA client: %w", err)
	}
	return client, nil
}

func runWatch(ctx context.Context, opts *flagutil.WatchOptions) error {
	logger := logrus.WithField("component", "watch")

	schedule, err := opts.CronSchedule()
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	client, err := createJiraClient(jira.Options{
		RequestTimeout: opts.RequestTimeout,
		Retries:        opts.Retries,
		Logger:         logger.WithField("component", "jira"),
	})
	if err != nil {
		return err
	}

	backend, err := openBackend(opts.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	configDir := config.MustConfigDir()
	channelConfig, err := channels.Load(configDir)
	if err != nil {
		return fmt.Errorf("cannot load channel configuration: %w", err)
	}
	channelList, err := channelConfig.Build(configDir, opts.Browser, client)
	if err != nil {
		return fmt.Errorf("cannot create notification channels: %w", err)
	}
	router := notify.NewRouter(logger.WithField("component", "notify"), channelList...)

	registryDir, err := registry.DefaultDir()
	if err != nil {
		return err
	}

	svc := service.NewService(service.Config{
		FilterID:          opts.FilterID,
		MaxResults:        opts.MaxResults,
		Schedule:          schedule,
		PersistEveryCycle: opts.PersistEveryCycle,
		Version:           version,
	}, client, backend, compare.NewDetector(opts.RecencyWindow), router, registry.New(registryDir), logger)

	logger.WithFields(logrus.Fields{
		"filter":   opts.FilterID,
		"interval": opts.Interval(),
		"schedule": opts.Schedule,
		"storage":  opts.Storage,
		"channels": router.Channels(),
	}).Info("Starting watch")

	if err := svc.Watch(ctx); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	logger.Info("Watch stopped")
	return nil
}

func runInspect(ctx context.Context, filterID string, maxResults int, recencyWindow time.Duration) error {
	client, err := createJiraClient(jira.Options{})
	if err != nil {
		return err
	}

	backend, err := openBackend(storageDriver)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := service.NewService(service.Config{
		FilterID:   filterID,
		MaxResults: maxResults,
	}, client, backend, compare.NewDetector(recencyWindow), nil, nil, nil)

	result, err := svc.Inspect(ctx)
	if err != nil {
		return fmt.Errorf("cannot inspect filter: %w", err)
	}

	if len(result.Current) == 0 && len(result.Disappeared) == 0 {
		fmt.Printf("No issues found in filter %s\n", filterID)
		return nil
	}

	model := ui.NewModel(ui.Result(*result))
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("cannot run TUI: %w", err)
	}

	return nil
}

func runList() error {
	backend, err := openBackend(storageDriver)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := service.NewService(service.Config{}, nil, backend, nil, nil, nil, nil)
	snapshots, err := svc.ListSnapshots()
	if err != nil {
		return fmt.Errorf("cannot list snapshots: %w", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("No stored snapshots found")
		return nil
	}

	fmt.Println("Stored snapshots:")
	for _, snapshot := range snapshots {
		fmt.Printf("  - filter %s (%d issues", snapshot.FilterID, snapshot.IssueCount)
		if !snapshot.LastSaved.IsZero() {
			fmt.Printf(", last saved: %s", snapshot.LastSaved.Format("2006-01-02 15:04"))
		}
		fmt.Printf(")\n")
	}

	return nil
}

func runDelete(filterID string) error {
	backend, err := openBackend(storageDriver)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := service.NewService(service.Config{FilterID: filterID}, nil, backend, nil, nil, nil, nil)
	if err := svc.DeleteSnapshot(); err != nil {
		return fmt.Errorf("cannot delete snapshot: %w", err)
	}

	fmt.Printf("Snapshot of filter %s deleted successfully\n", filterID)
	return nil
}

func runStatus() error {
	registryDir, err := registry.DefaultDir()
	if err != nil {
		return err
	}

	records, err := registry.New(registryDir).List()
	if err != nil {
		return fmt.Errorf("cannot list watchers: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No running watchers")
		return nil
	}

	fmt.Println("Watchers:")
	for _, record := range records {
		state := "running"
		if !record.Alive {
			state = "stale"
		}
		fmt.Printf("  - filter %s (pid %d, %s, started %s)\n", record.FilterID, record.PID, state, record.StartedAt.Format("2006-01-02 15:04"))
	}

	return nil
}
