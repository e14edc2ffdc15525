package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCatalog = `
speakers:
  Jenny: en-US-JennyNeural
  Guy: en-US-GuyNeural
voices:
  - id: en-US-JennyNeural
    locale: en-US
    gender: Female
    styles: [cheerful]
  - id: en-US-GuyNeural
    locale: en-US
    gender: Male
`

const testScript = "[Jenny:cheerful]: Good morning!\n[Guy]: Morning, Jenny.\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "voices.yaml", testCatalog)
	script := writeFile(t, dir, "script.txt", testScript)

	stdout, _, err := execute(t, "parse", "--catalog", cat, "-i", script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	var out parseOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", stdout, err)
	}
	if len(out.Jobs) != 2 || !out.MultiVoice {
		t.Fatalf("Expected two multi-voice jobs, got %+v", out)
	}
	if out.Jobs[0].Voice != "en-US-JennyNeural" || out.Jobs[0].Emotion != "cheerful" {
		t.Errorf("Unexpected first job %+v", out.Jobs[0])
	}
}

func TestParseCommand_NoVoice(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "voices.yaml", testCatalog)
	script := writeFile(t, dir, "script.txt", "Just some prose without a speaker.")

	if _, _, err := execute(t, "parse", "--catalog", cat, "-i", script, "--voice", ""); err == nil {
		t.Error("Expected error when no voice can be resolved")
	}
}

func TestVoicesCommand(t *testing.T) {
	cat := writeFile(t, t.TempDir(), "voices.yaml", testCatalog)

	stdout, _, err := execute(t, "voices", "--catalog", cat)
	if err != nil {
		t.Fatalf("voices failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 voices, got %q", stdout)
	}
	if !strings.HasPrefix(lines[1], "en-US-GuyNeural") || !strings.Contains(lines[2], "Jenny") {
		t.Errorf("Unexpected listing %q", stdout)
	}
}

func TestComposeCommand_Mock(t *testing.T) {
	t.Setenv("BACKENDS", "")
	t.Setenv("BACKEND_MOCK_KIND", "")

	dir := t.TempDir()
	cat := writeFile(t, dir, "voices.yaml", testCatalog)
	script := writeFile(t, dir, "script.txt", testScript)
	out := filepath.Join(dir, "out.wav")

	stdout, stderr, err := execute(t, "compose", "--mock", "--catalog", cat, "-i", script, "-o", out)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(stdout, "Wrote "+out) {
		t.Errorf("Unexpected output %q", stdout)
	}
	if !strings.Contains(stderr, "warning") {
		t.Errorf("Expected the multi-voice prosody warning on stderr, got %q", stderr)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Error("Expected a WAV file")
	}
}

func TestReadInput_Stdin(t *testing.T) {
	text, err := readInput("-", strings.NewReader("[Guy]: hi"))
	if err != nil || text != "[Guy]: hi" {
		t.Errorf("readInput() = %q, %v", text, err)
	}

	if _, err := readInput(filepath.Join(t.TempDir(), "missing.txt"), nil); err == nil {
		t.Error("Expected error for a missing file")
	}
}
