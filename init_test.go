package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phobologic/markguard/internal/config"
)

func TestInitCreatesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	path := filepath.Join(dir, config.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	content := string(data)
	for _, name := range []string{"aggregate-commands-mark", "flow-when-mark", "list-when-mark"} {
		if !strings.Contains(content, name) {
			t.Errorf("config missing rule %s:\n%s", name, content)
		}
	}
	if !strings.Contains(stderr.String(), "wrote "+path) {
		t.Errorf("stderr: %q", stderr.String())
	}
}

// TestInitConfigRoundTrip verifies that the written defaults load back and
// lint a repo exactly like no config at all.
func TestInitConfigRoundTrip(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.Load("", dir)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Path == "" {
		t.Error("written config was not picked up")
	}

	var out1, out2 bytes.Buffer
	err1 := run([]string{dir}, &out1, &stderr)
	if err := os.Remove(filepath.Join(dir, config.FileName)); err != nil {
		t.Fatal(err)
	}
	err2 := run([]string{dir}, &out2, &stderr)
	if err1 != err2 {
		t.Errorf("exit differs: %v vs %v", err1, err2)
	}
	if out1.String() != out2.String() {
		t.Errorf("output differs:\nwith config:\n%s\nwithout:\n%s", out1.String(), out2.String())
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	writeTestFile(t, dir, config.FileName, "format: json\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{"init", dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for existing config")
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("error should mention --force: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "format: json\n" {
		t.Errorf("existing config was modified:\n%s", data)
	}
}

func TestInitForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, config.FileName, "format: json\n")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--force", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "flow-when-mark") {
		t.Errorf("config not overwritten:\n%s", data)
	}
}

func TestInitExplicitFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "custom.yml")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", path}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not written to %s: %v", path, err)
	}
}

func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init --dry-run: %v", err)
	}

	out := stdout.String()
	if !strings.HasPrefix(out, "# markguard configuration") {
		t.Errorf("dry run output should start with the header:\n%s", out)
	}
	if !strings.Contains(out, "completion: mark") {
		t.Errorf("dry run output missing completion:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); !os.IsNotExist(err) {
		t.Error("dry run should not write a file")
	}
}

func TestRulesCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"rules", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("rules: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"RULE", "MIDDLEWARE",
		"aggregate-commands-mark", "flow-when-mark", "list-when-mark",
		"readModel/lists", "asReadyForNext or asRejected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rules output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "aggregate-commands-mark") > strings.Index(out, "list-when-mark") {
		t.Error("rules should be listed by name")
	}
}

func TestRulesCommandReflectsConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, config.FileName, `rules:
  list-when-mark:
    enabled: false
    terminal: [asDone, asSkipped]
`)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"rules", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("rules: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "false") {
		t.Errorf("disabled rule not shown:\n%s", out)
	}
	if !strings.Contains(out, "asDone or asSkipped") {
		t.Errorf("configured terminal methods not shown:\n%s", out)
	}
}
