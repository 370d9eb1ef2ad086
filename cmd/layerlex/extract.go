package main

import (
	"github.com/spf13/cobra"

	"layerlex/internal/domain"
	"layerlex/internal/metrics"
)

type extractOutput struct {
	RawName string                   `json:"raw_name"`
	Matched bool                     `json:"matched"`
	Result  *domain.ExtractionResult `json:"result,omitempty"`
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract NAME...",
		Short: "Match raw names against the extraction patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := make([]extractOutput, 0, len(args))
			for _, name := range args {
				res, ok := a.svc.Extract(cmd.Context(), name)
				out = append(out, extractOutput{RawName: name, Matched: ok, Result: res})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
