package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/classroom-labs/internal/retention"
	"github.com/ashureev/classroom-labs/internal/store"
)

func newTranscriptsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transcripts",
		Aliases: []string{"tx"},
		Short:   "Inspect archived discussions",
	}
	cmd.AddCommand(
		newTranscriptsListCommand(opts),
		newTranscriptsShowCommand(opts),
		newTranscriptsPurgeCommand(opts),
	)
	return cmd
}

func newTranscriptsListCommand(opts *options) *cobra.Command {
	var (
		clientID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived discussions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			list, err := repo.ListDiscussions(cmd.Context(), store.ListOptions{Limit: limit, ClientID: clientID})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No discussions found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tOUTCOME\tROUNDS\tDURATION\tCLIENT")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					t.ID,
					t.StartedAt.Local().Format(time.DateTime),
					t.Outcome,
					t.Rounds,
					t.Duration().Round(time.Second),
					t.ClientID,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "only show discussions of this client ID")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum number of discussions")
	return cmd
}

func newTranscriptsShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one discussion with every utterance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			t, err := repo.GetDiscussion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("discussion %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Discussion %s\n", t.ID)
			fmt.Fprintf(out, "Started:  %s\n", t.StartedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Outcome:  %s after %d rounds\n", t.Outcome, t.Rounds)
			fmt.Fprintf(out, "Kickoff:  %s\n\n", t.Kickoff)
			for _, u := range t.Utterances {
				fmt.Fprintf(out, "[%02d] %s: %s\n", u.RoundIndex, u.Sender, u.Content)
			}
			return nil
		},
	}
}

func newTranscriptsPurgeCommand(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished discussions older than a TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				olderThan = opts.cfg.Transcripts.TTL
			}
			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			deleted := retention.NewWorker(repo, olderThan, time.Hour, nil).Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d discussions older than %s.\n", deleted, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default: $TRANSCRIPT_TTL)")
	return cmd
}

func closeStore(repo *store.SQLiteStore) {
	if err := repo.Close(); err != nil {
		slog.Warn("Failed to close transcript database", "error", err)
	}
}
