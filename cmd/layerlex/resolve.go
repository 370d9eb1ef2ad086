package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"layerlex/internal/domain"
	"layerlex/internal/metrics"
)

type resolveOutput struct {
	Matched bool                    `json:"matched"`
	Context domain.FeatureContext   `json:"context"`
	Mapping *domain.ResolvedMapping `json:"mapping,omitempty"`
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve KEY=VALUE...",
		Short: "Resolve feature attributes against the mapping candidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAttributes(args)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			m, fc, ok, err := a.svc.Resolve(attrs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resolveOutput{Matched: ok, Context: fc, Mapping: m})
		},
	}
}

func parseAttributes(args []string) (map[string]string, error) {
	attrs := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.Errorf("attribute %q must be KEY=VALUE", arg)
		}
		attrs[key] = value
	}
	return attrs, nil
}
