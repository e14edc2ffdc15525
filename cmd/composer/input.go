package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lexiqai/voice-composer/internal/catalog"
	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/planner"
)

// readInput reads a script from path, or from stdin when path is "-"
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

// offlineComposer can plan requests but has no backends to synthesize with
func offlineComposer(path, defaultVoice string) (*compose.Composer, *catalog.StaticCatalog, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, nil, err
	}
	pl := planner.New(cat, planner.DefaultOptions())
	return compose.New(cat, pl, nil, nil, compose.Options{DefaultVoice: defaultVoice}), cat, nil
}
