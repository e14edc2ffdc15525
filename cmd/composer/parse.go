package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/planner"
)

var (
	parseInput string
	parseVoice string
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Print the synthesis jobs planned for a script",
	Long: `Parse runs the parser and planner without synthesizing anything and
prints the resulting jobs and warnings as JSON.`,
	Args: cobra.NoArgs,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseInput, "input", "i", "-", "script file, - for stdin")
	parseCmd.Flags().StringVar(&parseVoice, "voice", "", "global voice for unmarked text")
	rootCmd.AddCommand(parseCmd)
}

type parseOutput struct {
	Jobs       []planner.Job  `json:"jobs"`
	Warnings   []diag.Warning `json:"warnings"`
	Voices     []string       `json:"voices"`
	MultiVoice bool           `json:"multi_voice"`
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := readInput(parseInput, cmd.InOrStdin())
	if err != nil {
		return err
	}

	c, _, err := offlineComposer(catalogPath, parseVoice)
	if err != nil {
		return err
	}

	plan, err := c.Plan(compose.Request{Text: text})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(parseOutput{
		Jobs:       plan.Jobs,
		Warnings:   plan.Warnings,
		Voices:     plan.Voices,
		MultiVoice: plan.MultiVoice,
	})
}
