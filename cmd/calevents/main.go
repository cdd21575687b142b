package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"calevents/internal/config"
	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/schedule"
	"calevents/internal/store"
)

const version = "0.1.0"

// app is what every subcommand runs against, filled in by the root command's
// PersistentPreRunE.
type app struct {
	configPath string
	calendar   string

	cfg   *config.Config
	store *store.Store
	opts  schedule.Options
}

// cliUser is the local operator. Whoever can run the binary can edit.
type cliUser struct{}

func (cliUser) Authenticated() bool { return true }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "calevents",
		Short:         "Recurring calendar events with per-occurrence overrides",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "path to config file")
	root.PersistentFlags().StringVarP(&a.calendar, "calendar", "c", "", "calendar slug (default: all events)")

	root.AddCommand(
		newOccurrencesCmd(a),
		newNextCmd(a),
		newRulesCmd(a),
		newCalendarsCmd(a),
		newAddCmd(a),
		newCancelCmd(a),
		newMoveCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newContentCmd(a),
		newWatchCmd(a),
	)
	return root
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "calevents", "config.yaml")
	}
	return "calevents.yaml"
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.configPath)
		return err
	}
	if err := appLog.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	appLog.Debug("effective config",
		"config_path", a.configPath,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"data_file", cfg.DataFile,
		"show_cancelled", cfg.ShowCancelledOccurrences,
		"agenda_refresh", cfg.Agenda.Refresh,
	)

	st, err := store.Open(cfg.DataFile)
	if err != nil {
		appLog.Error("failed to open data file", err, "data_file", cfg.DataFile)
		return err
	}

	opts := schedule.DefaultOptions()
	opts.ShowCancelled = cfg.ShowCancelledOccurrences
	opts.FirstWeekday = cfg.FirstWeekday()

	a.cfg, a.store, a.opts = cfg, st, opts
	if a.calendar == "" {
		a.calendar = cfg.Agenda.Calendar
	}
	return nil
}

// scope loads the events of the selected calendar with their overrides.
func (a *app) scope(ctx context.Context) (*scope, error) {
	events, err := a.store.Events(ctx, a.calendar)
	if err != nil {
		return nil, err
	}
	persisted, err := a.store.PersistedOccurrences(ctx, events)
	if err != nil {
		return nil, err
	}
	return &scope{events: events, persisted: persisted}, nil
}

type scope struct {
	events    []*model.Event
	persisted []*model.Occurrence
}
