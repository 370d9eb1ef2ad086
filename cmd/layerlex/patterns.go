package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"layerlex/internal/metrics"
)

func newPatternsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect loaded pattern definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJSON(cmd.OutOrStdout(), a.svc.Patterns())
		},
	}
	cmd.AddCommand(newPatternsCheckCmd(opts), newPatternsStatsCmd(opts))
	return cmd
}

func newPatternsCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile every definition and report the ones that fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, ok := a.svc.LastReload()
			if !ok {
				return errors.New("no snapshot loaded")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, summary.String())
			for _, le := range summary.LoadErrors {
				fmt.Fprintf(out, "  %s\n", le.Error())
			}
			for _, msg := range summary.SourceErrors {
				fmt.Fprintf(out, "  %s\n", msg)
			}
			if n := len(summary.LoadErrors) + len(summary.SourceErrors); n > 0 {
				return errors.Errorf("%d definitions failed to load", n)
			}
			return nil
		},
	}
}

func newPatternsStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show recorded match statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}
