package main

import (
	"errors"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/classroom-labs/internal/config"
	"github.com/ashureev/classroom-labs/internal/store"
)

// options holds the flags shared by every subcommand.
type options struct {
	rosterPath string
	dbPath     string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "classroomctl",
		Short:         "Inspect the classroom roster, speaker selection and transcripts",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if !cmd.Flags().Changed("roster") {
				opts.rosterPath = cfg.RosterPath
			}
			if !cmd.Flags().Changed("db") {
				opts.dbPath = cfg.DBPath
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.rosterPath, "roster", "", "classroom YAML file (default: $ROSTER_PATH or the built-in classroom)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "transcript database (default: $DB_PATH)")

	root.AddCommand(
		newSelectCommand(opts),
		newRosterCommand(opts),
		newTranscriptsCommand(opts),
	)
	return root
}

func (o *options) classroom() (*config.Classroom, error) {
	return config.LoadClassroom(o.rosterPath)
}

func (o *options) openStore() (*store.SQLiteStore, error) {
	if o.dbPath == "" {
		return nil, errors.New("no transcript database configured")
	}
	return store.NewSQLite(o.dbPath)
}
