package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/chainio"
	"github.com/Floozutter/stowjar/internal/config"
	"github.com/Floozutter/stowjar/internal/model"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	writeFile(t, filepath.Join(dir, "a.log"), "10 A 1\n15 B 1\n20 A 0\n28 B 0\n")
	writeFile(t, filepath.Join(dir, "b.log"), "3 A 1\n\n8 A 0\n")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildWritesChain(t *testing.T) {
	dir := setupEnv(t)
	chainPath := filepath.Join(dir, "out", "chain.json")
	out, err := execute(t, filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log"), "-c", chainPath)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no stdout without --record, got %q", out)
	}
	c, err := chainio.ReadFile(chainPath, chainio.FormatJSON)
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	if c.Len() != 4 {
		t.Fatalf("expected 4 states, got %d", c.Len())
	}
	if _, err := os.Stat(config.DefaultDBPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no run history without --record, stat err: %v", err)
	}
}

func TestBuildRejectsMalformedKeylog(t *testing.T) {
	dir := setupEnv(t)
	writeFile(t, filepath.Join(dir, "bad.log"), "10 A 1\n11 B maybe\n")
	chainPath := filepath.Join(dir, "chain.json")
	_, err := execute(t, filepath.Join(dir, "bad.log"), "-c", chainPath)
	if err == nil || !strings.Contains(err.Error(), "11 B maybe") {
		t.Fatalf("expected parse error naming the line, got %v", err)
	}
	if _, err := os.Stat(chainPath); !os.IsNotExist(err) {
		t.Fatalf("expected no chain written on failure")
	}
}

func TestRecordRebuildHistory(t *testing.T) {
	dir := setupEnv(t)
	dbPath := filepath.Join(dir, "runs.db")
	out, err := execute(t, filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log"), "-c", filepath.Join(dir, "chain.json"), "--db", dbPath)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	runID := strings.TrimSpace(out)
	if len(runID) != 36 {
		t.Fatalf("expected a run id on stdout, got %q", out)
	}

	rebuilt := filepath.Join(dir, "rebuilt.yaml")
	if _, err := execute(t, "rebuild", runID, "-c", rebuilt, "--db", dbPath); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	want, err := chainio.ReadFile(filepath.Join(dir, "chain.json"), chainio.FormatJSON)
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	got, err := chainio.ReadFile(rebuilt, chainio.FormatYAML)
	if err != nil {
		t.Fatalf("read rebuilt chain: %v", err)
	}
	if got.Len() != want.Len() || got.TransitionCount() != want.TransitionCount() {
		t.Fatalf("rebuilt chain differs: %d/%d states, %d/%d transitions",
			got.Len(), want.Len(), got.TransitionCount(), want.TransitionCount())
	}

	out, err = execute(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, runID) {
		t.Fatalf("expected run id in history:\n%s", out)
	}
	out, err = execute(t, "history", runID, "--db", dbPath)
	if err != nil {
		t.Fatalf("history streams failed: %v", err)
	}
	if !strings.Contains(out, "a.log") || !strings.Contains(out, "b.log") {
		t.Fatalf("expected both streams listed:\n%s", out)
	}

	if _, err := execute(t, "rebuild", "missing", "-c", rebuilt, "--db", dbPath); err == nil {
		t.Fatalf("expected unknown run to fail")
	}
}

func TestConfigOverlay(t *testing.T) {
	dir := setupEnv(t)
	writeFile(t, config.DefaultConfigPath(), "[build]\nsink-weight = 0\n")
	chainPath := filepath.Join(dir, "chain.json")
	_, err := execute(t, filepath.Join(dir, "a.log"), "-c", chainPath)
	if !errors.Is(err, chain.ErrSinkWeight) {
		t.Fatalf("expected config sink-weight to apply, got %v", err)
	}
	if _, err := execute(t, filepath.Join(dir, "a.log"), "-c", chainPath, "--sink-weight", "2"); err != nil {
		t.Fatalf("expected flag to override config: %v", err)
	}
}

func TestUnknownConfigKey(t *testing.T) {
	dir := setupEnv(t)
	writeFile(t, config.DefaultConfigPath(), "[build]\nsinkweight = 2\n")
	_, err := execute(t, filepath.Join(dir, "a.log"), "-c", filepath.Join(dir, "chain.json"))
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestReportAndValidate(t *testing.T) {
	dir := setupEnv(t)
	chainPath := filepath.Join(dir, "chain.toml")
	if _, err := execute(t, filepath.Join(dir, "a.log"), "-c", chainPath); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	out, err := execute(t, "report", chainPath, "--top", "3")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	for _, want := range []string{"Summary", "States by Out-Degree", "Dwell Time"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report:\n%s", want, out)
		}
	}

	out, err = execute(t, "validate", chainPath)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "ok (4 states") {
		t.Fatalf("unexpected validate output: %q", out)
	}

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"version":1,"states":[{"held":[],"transitions":[{"to":["A"],"duration":0,"probability":0.5}]}]}`)
	if _, err := execute(t, "validate", bad); err == nil {
		t.Fatalf("expected validate to reject an open chain")
	}
}

func TestValidateBuildConfig(t *testing.T) {
	base := model.BuildConfig{
		Inputs:     []string{"a.log"},
		ChainPath:  "chain.json",
		SinkWeight: 1,
		Jobs:       1,
	}
	if err := validateBuildConfig(base); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*model.BuildConfig)
	}{
		{name: "no inputs", mutate: func(c *model.BuildConfig) { c.Inputs = nil }},
		{name: "no chain", mutate: func(c *model.BuildConfig) { c.ChainPath = " " }},
		{name: "zero jobs", mutate: func(c *model.BuildConfig) { c.Jobs = 0 }},
		{name: "zero weight", mutate: func(c *model.BuildConfig) { c.SinkWeight = 0 }},
		{name: "negative duration", mutate: func(c *model.BuildConfig) { c.SinkDuration = -1 }},
		{name: "bad format", mutate: func(c *model.BuildConfig) { c.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := validateBuildConfig(cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfigTemplateDecodes(t *testing.T) {
	setupEnv(t)
	path := config.DefaultConfigPath()
	if err := writeConfigTemplate(path); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("commented template should decode: %v", err)
	}
	if cfg.Build.SinkWeight != nil {
		t.Fatalf("expected commented values to stay unset")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") && strings.Contains(line, " = ") {
			lines[i] = strings.TrimPrefix(line, "# ")
		}
	}
	writeFile(t, path, strings.Join(lines, "\n"))
	cfg, err = config.LoadConfig(path)
	if err != nil {
		t.Fatalf("uncommented template should decode: %v", err)
	}
	if cfg.Build.SinkWeight == nil || *cfg.Build.SinkWeight != chain.DefaultSinkPolicy.Weight {
		t.Fatalf("unexpected sink weight: %v", cfg.Build.SinkWeight)
	}
	if cfg.Log.Level == nil || *cfg.Log.Level != defaultLogLevel {
		t.Fatalf("unexpected log level: %v", cfg.Log.Level)
	}
}
