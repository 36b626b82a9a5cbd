package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"kgqa_agent/internal/orche"
	"kgqa_agent/internal/session"

	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and stream progress to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			var sess *session.Session
			if sessionID == "" {
				sess, err = session.NewSession(ctx, a.sessions)
			} else {
				sess, err = session.ResumeSession(ctx, a.sessions, sessionID)
			}
			if err != nil {
				return err
			}
			sessionID = sess.ID
			if sess.RoundNum > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "continuing %s after %d rounds\n", sess.ID, sess.RoundNum)
			}

			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")
			for chunk := range a.pipeline.Answer(ctx, question, map[string]any{orche.MetaSessionID: sessionID}) {
				switch chunk.Kind {
				case orche.ChunkFinal:
					fmt.Fprintf(out, "\n%s\n", chunk.Text)
				default:
					fmt.Fprintf(out, "%s\n\n", chunk.Text)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
			return ctx.Err()
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	return cmd
}
