package main

import (
	"fmt"

	"kgqa_agent/internal/config"
	"kgqa_agent/internal/session"

	"github.com/spf13/cobra"
)

func historyCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session>",
		Short: "Print the stored rounds of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// only the session store is needed, so skip full validation
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			store, err := session.OpenStore(cfg.Session.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rounds, err := store.Rounds(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rounds) == 0 {
				fmt.Fprintf(out, "no rounds stored for %s\n", args[0])
				return nil
			}
			for _, r := range rounds {
				fmt.Fprintf(out, "## Round %d (%s)\n**Question:** %s\n", r.Num, r.CreatedAt, r.Question)
				for i, s := range r.Plan.Steps {
					fmt.Fprintf(out, "  %d. [%s] %s\n", i+1, s.SuggestedTool, s.Instruction)
				}
				fmt.Fprintf(out, "**Answer:** %s\n", r.Answer)
				if len(r.Errors) > 0 {
					fmt.Fprintf(out, "**Errors:** %d\n", len(r.Errors))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
