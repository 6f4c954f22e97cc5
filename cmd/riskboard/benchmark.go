package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskboard/internal/benchmark"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/scoring"
)

func newBenchmarkCmd(load configLoader) *cobra.Command {
	var (
		labelField string
		minLevel   string
	)

	cmd := &cobra.Command{
		Use:   "benchmark <labelled.csv>",
		Short: "Score a labelled CSV and report detection metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			level, err := domain.ParseRiskLevel(minLevel)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			c := risk.Classifier{
				MediumThreshold: cfg.Analysis.MediumThreshold,
				HighThreshold:   cfg.Analysis.HighThreshold,
			}
			scorer, err := newScorer(cfg.Scoring, c)
			if err != nil {
				return err
			}

			up := scoring.Upload{FileName: filepath.Base(args[0]), Data: data}
			m, err := benchmark.Run(cmd.Context(), scorer, up, benchmark.Options{
				LabelField: labelField,
				MinLevel:   level,
			})
			if err != nil {
				return err
			}

			printMetrics(cmd, cfg.Scoring.Mode, level, m)
			return nil
		},
	}

	cmd.Flags().StringVar(&labelField, "label", benchmark.DefaultLabelField, "fraud label column")
	cmd.Flags().StringVar(&minLevel, "min-level", string(domain.RiskHigh), "lowest bucket counted as a fraud prediction")
	return cmd
}

func printMetrics(cmd *cobra.Command, mode domain.ScoringMode, level domain.RiskLevel, m benchmark.Metrics) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  BENCHMARK RESULTS")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Scoring:         %s\n", mode)
	fmt.Fprintf(out, "  Flagged from:    %s\n", level.Label())
	fmt.Fprintf(out, "  Compared rows:   %d\n", m.Total())
	fmt.Fprintf(out, "  Unlabelled:      %d\n", m.Unlabelled)
	fmt.Fprintf(out, "  Unscored:        %d\n", m.Unscored)
	fmt.Fprintf(out, "  Duration:        %s\n", m.Duration)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Confusion matrix:")
	fmt.Fprintf(out, "    TP %-8d FP %d\n", m.TruePositives, m.FalsePositives)
	fmt.Fprintf(out, "    FN %-8d TN %d\n", m.FalseNegatives, m.TrueNegatives)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Precision:  %.2f%%\n", m.Precision()*100)
	fmt.Fprintf(out, "  Recall:     %.2f%%\n", m.Recall()*100)
	fmt.Fprintf(out, "  F1 Score:   %.2f%%\n", m.F1()*100)
	fmt.Fprintf(out, "  Accuracy:   %.2f%%\n", m.Accuracy()*100)
	fmt.Fprintln(out)
}
