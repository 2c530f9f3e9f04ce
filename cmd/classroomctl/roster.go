package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRosterCommand(opts *options) *cobra.Command {
	var showPrompts bool

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Print the participants of the configured classroom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classroom, err := opts.classroom()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Kickoff: %s\n\n", classroom.Kickoff)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tROLE\tDESCRIPTION")
			for _, p := range classroom.Roster.Participants() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Role, p.Persona.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if showPrompts {
				for _, p := range classroom.Roster.Participants() {
					if p.IsHuman() {
						continue
					}
					fmt.Fprintf(out, "\n--- %s ---\n%s\n", p.Name, p.Persona.SystemPrompt)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPrompts, "prompts", false, "also print each agent's composed system prompt")
	return cmd
}
