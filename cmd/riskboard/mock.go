package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskboard/internal/csvinput"
	"github.com/opensource-finance/riskboard/internal/mock"
	"github.com/opensource-finance/riskboard/internal/risk"
)

func newMockCmd(load configLoader) *cobra.Command {
	var (
		count  int
		seed   int64
		out    string
		scores bool
	)

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Write synthetic transactions as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}

			gen := mock.New(mock.Config{
				Seed: seed,
				Classifier: risk.Classifier{
					MediumThreshold: cfg.Analysis.MediumThreshold,
					HighThreshold:   cfg.Analysis.HighThreshold,
				},
			})
			rows := gen.Generate(count)

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			if err := csvinput.Write(w, rows, csvinput.WriteOptions{Scores: scores}); err != nil {
				return err
			}
			slog.Debug("mock data written", "rows", len(rows), "out", out, "scores", scores)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 50, "number of rows")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 seeds from the clock")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&scores, "scores", false, "include risk_level and fraud_probability columns")
	return cmd
}
