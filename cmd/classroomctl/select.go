package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/classroom-labs/internal/callout"
	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/speaker"
)

func newSelectCommand(opts *options) *cobra.Command {
	var (
		sender      string
		lastSpeaker string
		mode        string
		fallback    string
		allowRepeat bool
	)

	cmd := &cobra.Command{
		Use:   "select <utterance>",
		Short: "Show who the selection policy picks after an utterance",
		Example: `  classroomctl select "Interesting. Bianca, what do you think?"
  classroomctl select --sender Alvin --mode fixed "Let me ask the human user."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classroom, err := opts.classroom()
			if err != nil {
				return err
			}
			if mode == "" {
				mode = string(opts.cfg.Discussion.CalloutMode)
			}
			if fallback == "" {
				fallback = string(opts.cfg.Discussion.Fallback)
			}
			if !callout.Mode(mode).IsValid() {
				return fmt.Errorf("invalid --mode %q", mode)
			}
			if !speaker.Fallback(fallback).IsValid() {
				return fmt.Errorf("invalid --fallback %q", fallback)
			}
			if !classroom.Roster.Has(sender) {
				return fmt.Errorf("unknown sender %q; participants: %s", sender, strings.Join(classroom.Roster.Names(), ", "))
			}

			policy := speaker.New(
				speaker.WithParser(callout.New(callout.WithMode(callout.Mode(mode)))),
				speaker.WithFallback(speaker.Fallback(fallback)),
				speaker.WithAllowRepeat(allowRepeat),
			)

			var history domain.History
			history.Append(sender, strings.Join(args, " "))
			d := policy.SelectNext(history.Entries(), classroom.Roster, lastSpeaker)

			out := cmd.OutOrStdout()
			if d.Terminate {
				fmt.Fprintf(out, "terminate: %s\n", d.Announcement)
				return nil
			}
			fmt.Fprintf(out, "next: %s (stage=%s, redrawn=%t)\n", d.Speaker.Name, d.Stage, d.Redrawn)
			fmt.Fprintln(out, d.Announcement)
			return nil
		},
	}

	cmd.Flags().StringVar(&sender, "sender", domain.TeacherName, "participant who said the utterance")
	cmd.Flags().StringVar(&lastSpeaker, "last-speaker", "", "previous speaker for the no-repeat rule (default: the sender)")
	cmd.Flags().StringVar(&mode, "mode", "", "call-out mode: dynamic or fixed (default: $CALLOUT_MODE)")
	cmd.Flags().StringVar(&fallback, "fallback", "", "fallback policy: teacher or random (default: $FALLBACK_POLICY)")
	cmd.Flags().BoolVar(&allowRepeat, "allow-repeat", false, "let the same participant speak twice in a row")
	return cmd
}
