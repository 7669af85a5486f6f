package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"bomatch/internal/catalog"
	"bomatch/internal/config"
	"bomatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// writeBuildFile writes the sample build as a JSON document and returns its path.
func (e *cliTestEnv) writeBuildFile(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(testsupport.SampleBuild())
	if err != nil {
		t.Fatalf("marshal build: %v", err)
	}
	path := filepath.Join(e.baseDir, "build.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write build: %v", err)
	}
	return path
}

// writeFrameFile writes a frame with one detection per axis, laid out so the
// proximity filter never fires.
func (e *cliTestEnv) writeFrameFile(t *testing.T, name string, axes ...int) string {
	t.Helper()
	frame := catalog.Frame{ID: name}
	frame.Detections = testsupport.SpreadDetections(len(axes), func(i int) []float32 {
		return testsupport.Axis(axes[i])
	})
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	path := filepath.Join(e.baseDir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return path
}

func (e *cliTestEnv) importSample(t *testing.T) {
	t.Helper()
	if _, _, err := runCLI(t, []string{"catalog", "import", "--file", e.writeBuildFile(t)}, e.configPath); err != nil {
		t.Fatalf("catalog import: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
