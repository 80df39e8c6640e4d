package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadInputFromArgs(t *testing.T) {
	input, err := readInput([]string{"hello", "world"}, "", strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input != "hello world" {
		t.Fatalf("unexpected input: %q", input)
	}
}

func TestReadInputFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("file input\n"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	input, err := readInput(nil, path, strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input != "file input" {
		t.Fatalf("unexpected input: %q", input)
	}
}

func TestReadInputFromStdin(t *testing.T) {
	input, err := readInput(nil, "-", strings.NewReader("stdin input\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input != "stdin input" {
		t.Fatalf("unexpected input: %q", input)
	}
}

func TestReadInputMissing(t *testing.T) {
	_, err := readInput(nil, "", strings.NewReader(""))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestReadInputConflict(t *testing.T) {
	_, err := readInput([]string{"hello"}, "input.txt", strings.NewReader(""))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolvePromptPrefersFlag(t *testing.T) {
	prompt, err := resolvePrompt("  from flag ", nil, "", strings.NewReader("ignored"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "from flag" {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestResolvePromptFlagConflict(t *testing.T) {
	if _, err := resolvePrompt("flag", []string{"arg"}, "", strings.NewReader("")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolvePromptFallsBackToStdin(t *testing.T) {
	prompt, err := resolvePrompt("", nil, "", strings.NewReader("piped\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "piped" {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestResolvePromptEmpty(t *testing.T) {
	if _, err := resolvePrompt("", nil, "", strings.NewReader("  \n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildMessagesSkipsBlankSystem(t *testing.T) {
	messages := buildMessages("  ", "hi")
	if len(messages) != 1 || messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	messages = buildMessages("be brief", "hi")
	if len(messages) != 2 || messages[0].Role != "system" || messages[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}
