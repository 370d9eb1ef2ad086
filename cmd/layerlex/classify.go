package main

import (
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"layerlex/internal/codec"
	"layerlex/internal/metrics"
	"layerlex/internal/pipeline"
)

type classifyOptions struct {
	file        string
	inputFormat string
	output      string
	showLog     bool
	debug       bool
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	co := &classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify [NAME...]",
		Short: "Run names through the full pipeline",
		Long: `Run raw names through normalization, extraction, resolution and identity
assembly. Names come from the arguments or from --file ("-" reads stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := co.units(cmd, args)
			if err != nil {
				return err
			}
			exporter, err := codec.ExporterFor(co.output)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), metrics.Disabled(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.svc.ClassifyBatch(cmd.Context(), units)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if co.debug {
				spew.Fdump(cmd.ErrOrStderr(), results)
			}
			if co.showLog {
				for _, res := range results {
					data, err := res.Log.JSON()
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
				}
				return nil
			}

			report, err := codec.NewReport(results)
			if err != nil {
				return err
			}
			return exporter.Export(report, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&co.file, "file", "f", "", "Read units from a file (- for stdin)")
	flags.StringVar(&co.inputFormat, "format", "text", "Input format: text, json or yaml")
	flags.StringVarP(&co.output, "output", "o", "json", "Report format: json or yaml")
	flags.BoolVar(&co.showLog, "log", false, "Print each pipeline log instead of the report")
	flags.BoolVar(&co.debug, "debug", false, "Dump full results to stderr")
	return cmd
}

func (co *classifyOptions) units(cmd *cobra.Command, args []string) ([]pipeline.Unit, error) {
	if co.file == "" {
		if len(args) == 0 {
			return nil, errors.New("no names given; pass names or --file")
		}
		units := make([]pipeline.Unit, len(args))
		for i, name := range args {
			units[i] = pipeline.Unit{RawName: name}
		}
		return units, nil
	}

	importer, err := codec.ImporterFor(co.inputFormat)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if co.file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(co.file)
		if err != nil {
			return nil, errors.Wrap(err, "open input")
		}
		defer f.Close()
		r = f
	}

	units, err := importer.Parse(r)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s input", importer.Format())
	}
	for _, name := range args {
		units = append(units, pipeline.Unit{RawName: name})
	}
	return units, nil
}
