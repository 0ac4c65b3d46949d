// Command turnreplay 把脚本化的对话送入陪伴引擎，并打印引擎在每一轮的决策。
// 回复来自场景文件，不需要模型凭证
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		format  string
		seed    int64
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "turnreplay <scenario.yaml>",
		Short: "Replay a scripted conversation through the companion engine",
		Long: `Loads a YAML scenario (profile, persona and turns), runs each turn through
the engine with scripted replies, and prints per-turn telemetry: sentiment,
tier, resonance, modulation, enrichments and queued side effects.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				sc.Seed = &seed
			}

			reports, err := Replay(cmd.Context(), sc, verbose)
			if err != nil {
				return err
			}
			return Render(cmd.OutOrStdout(), format, reports)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or yaml")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for enrichment and conversion draws (overrides the scenario)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log engine internals to stderr")
	return cmd
}
