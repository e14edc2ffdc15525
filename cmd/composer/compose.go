package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-composer/internal/app"
	"github.com/lexiqai/voice-composer/internal/audio"
	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/config"
	"github.com/lexiqai/voice-composer/internal/tts"
)

var (
	composeInput    string
	composeOutput   string
	composeVoice    string
	composeEncoding string
	composeSilence  int
	composeLenient  bool
	composeMock     bool
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Synthesize a dialogue script into one audio file",
	Long: `Compose reads a script, synthesizes every line on the configured backends
and writes the stitched audio. Warnings and per-line failures are printed to
stderr.

With --mock no backend configuration is needed; every line is rendered as a
tone of the length the text would take to speak.`,
	Args: cobra.NoArgs,
	RunE: runCompose,
}

func init() {
	composeCmd.Flags().StringVarP(&composeInput, "input", "i", "-", "script file, - for stdin")
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "out.wav", "audio output file")
	composeCmd.Flags().StringVar(&composeVoice, "voice", "", "global voice for unmarked text")
	composeCmd.Flags().StringVar(&composeEncoding, "encoding", "", "output encoding: wav, pcm, mulaw")
	composeCmd.Flags().IntVar(&composeSilence, "silence-ms", -1, "gap between lines; configured default when negative")
	composeCmd.Flags().BoolVar(&composeLenient, "lenient", false, "keep going when some lines fail")
	composeCmd.Flags().BoolVar(&composeMock, "mock", false, "use a local mock backend")
	rootCmd.AddCommand(composeCmd)
}

func runCompose(cmd *cobra.Command, args []string) error {
	text, err := readInput(composeInput, cmd.InOrStdin())
	if err != nil {
		return err
	}

	if composeMock && os.Getenv("BACKENDS") == "" {
		os.Setenv("BACKENDS", "mock")
		os.Setenv("BACKEND_MOCK_KIND", tts.KindMock)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.VoiceCatalogPath = catalogPath

	svc, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	req := compose.Request{
		Text:     text,
		Voice:    composeVoice,
		Encoding: tts.Encoding(composeEncoding),
	}
	if composeSilence >= 0 {
		req.SilenceMs = &composeSilence
	}
	if composeLenient {
		req.Mode = audio.ModeLenient
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := svc.Composer.Compose(ctx, req)
	if res != nil {
		report(cmd, res)
	}
	var ae *audio.AssemblyError
	if errors.As(err, &ae) && res != nil {
		return fmt.Errorf("%d of %d lines failed: %w", len(ae.Failures), len(res.Chunks), err)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(composeOutput, res.Output.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d ms, %d Hz, %s)\n",
		composeOutput, res.Output.DurationMs, res.Output.Format.SampleRate, res.Output.Format.Encoding)
	return nil
}

func report(cmd *cobra.Command, res *compose.Result) {
	out := cmd.ErrOrStderr()
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning [%d] %s: %s\n", w.Index, w.Code, w.Message)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "failed  [%d] %s: %s\n", f.Index, f.Code, f.Reason)
	}
}
