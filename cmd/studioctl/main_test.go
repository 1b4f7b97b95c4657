package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestUnknownCommandFails(t *testing.T) {
	if _, err := runCLI(t, "launch"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("got err=%v", err)
	}
	if _, err := runCLI(t, "add-script"); err == nil {
		t.Fatalf("expected argument count error")
	}
}

func TestValidateLineAndStrip(t *testing.T) {
	out, err := runCLI(t, "validate-line", "(quietly)", "Hello")
	if err != nil || !strings.Contains(out, "parentheses") {
		t.Fatalf("validate-line: err=%v out=%q", err, out)
	}
	out, err = runCLI(t, "validate-line", "Hello there")
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Fatalf("validate-line clean: err=%v out=%q", err, out)
	}
	out, err = runCLI(t, "strip", "(quietly) Hello [beat] *there*")
	if err != nil || strings.TrimSpace(out) != "Hello" {
		t.Fatalf("strip: err=%v out=%q", err, out)
	}
}

func TestValidatePromptYAMLAndList(t *testing.T) {
	yamlPath := writeFile(t, "prompt.yaml", "title: Loglines\ncategory: general\nprompt: Write three loglines about {{topic}}\n")
	out, err := runCLI(t, "validate-prompt", yamlPath)
	if err != nil || !strings.Contains(out, `"Loglines" valid`) {
		t.Fatalf("yaml: err=%v out=%q", err, out)
	}
	listPath := writeFile(t, "prompts.json", `[{"title":"A","prompt":"p","category":"general"},{"title":"B","prompt":"p","category":"unknown"}]`)
	if _, err := runCLI(t, "validate-prompt", listPath); err == nil || !strings.Contains(err.Error(), "prompts[1]") {
		t.Fatalf("list: expected prompts[1] error, got %v", err)
	}
}

func TestThemeTogglePersists(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	dsn := filepath.Join(t.TempDir(), "studio.db")
	out, err := runCLI(t, "--db", dsn, "theme")
	if err != nil || strings.TrimSpace(out) != "light" {
		t.Fatalf("theme: err=%v out=%q", err, out)
	}
	if out, err = runCLI(t, "--db", dsn, "theme", "toggle"); err != nil || strings.TrimSpace(out) != "dark" {
		t.Fatalf("toggle: err=%v out=%q", err, out)
	}
	if out, err = runCLI(t, "--db", dsn, "theme"); err != nil || strings.TrimSpace(out) != "dark" {
		t.Fatalf("theme after toggle: err=%v out=%q", err, out)
	}
	if _, err = runCLI(t, "--db", dsn, "theme", "sepia"); err == nil || !strings.Contains(err.Error(), "light, dark or toggle") {
		t.Fatalf("invalid theme: got %v", err)
	}
}

func TestAddScriptOverHTTP(t *testing.T) {
	s := store.NewMemory()
	r := messenger.NewRouter("background")
	r.Handle(messenger.TypeAddScript, messenger.AddScriptHandler(s.Scripts))
	srv := httptest.NewServer(messenger.HTTPHandler(r, nil))
	defer srv.Close()

	path := writeFile(t, "script.json", `{"title":"Ferry","characters":[{"name":"Mai","roleId":"mai"}],"acts":[{"act_number":1,"scenes":[{"scene_number":1,"dialogues":[{"roleId":"tam","line":"Hi"}]}]}]}`)
	out, err := runCLI(t, "--background", srv.URL, "--redis", "", "add-script", path)
	if err != nil {
		t.Fatalf("add-script: %v", err)
	}
	if !strings.Contains(out, "script 1 stored") || !strings.Contains(out, `roleId "tam"`) {
		t.Fatalf("output: %q", out)
	}
	got, ok, err := s.Scripts.Get(t.Context(), 1)
	if err != nil || !ok || got.Title != "Ferry" {
		t.Fatalf("stored: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestPrimeFailsWhenTypeUnhandled(t *testing.T) {
	r := messenger.NewRouter("background")
	srv := httptest.NewServer(messenger.HTTPHandler(r, nil))
	defer srv.Close()
	if _, err := runCLI(t, "--background", srv.URL, "--redis", "", "prime"); err == nil {
		t.Fatalf("expected delivery error for unhandled type")
	}
}
