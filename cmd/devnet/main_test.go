package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseKeyValueArgs(t *testing.T) {
	got, err := parseKeyValueArgs("--build-arg", []string{"VERSION=1.2.3", "EMPTY="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["VERSION"] != "1.2.3" {
		t.Fatalf("VERSION = %q", got["VERSION"])
	}
	if v, ok := got["EMPTY"]; !ok || v != "" {
		t.Fatalf("EMPTY = %q present=%v", v, ok)
	}
}

func TestParseKeyValueArgsBareKeyReadsEnv(t *testing.T) {
	t.Setenv("DEVNET_TEST_ARG", "from-env")
	got, err := parseKeyValueArgs("--build-arg", []string{"DEVNET_TEST_ARG"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["DEVNET_TEST_ARG"] != "from-env" {
		t.Fatalf("value = %q", got["DEVNET_TEST_ARG"])
	}
}

func TestParseKeyValueArgsRejectsEmptyKey(t *testing.T) {
	if _, err := parseKeyValueArgs("--build-arg", []string{"=value"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestParseKeyValueArgsNilInput(t *testing.T) {
	got, err := parseKeyValueArgs("--build-arg", nil)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestCacheMetaCommandPrintsDocument(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"cache-meta", "--stdout", "--credentials-dir", t.TempDir()})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var doc struct {
		Target map[string]struct {
			CacheFrom []string `json:"cache-from"`
			CacheTo   []string `json:"cache-to"`
			Output    []string `json:"output"`
		} `json:"target"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("parse output: %v\n%s", err, out.String())
	}
	if len(doc.Target) != 3 {
		t.Fatalf("targets = %v", doc.Target)
	}
	validator, ok := doc.Target["validator"]
	if !ok {
		t.Fatalf("no validator target: %s", out.String())
	}
	if len(validator.CacheFrom) != 1 || !strings.Contains(validator.CacheFrom[0], "scope=validator") {
		t.Fatalf("validator cache-from = %v", validator.CacheFrom)
	}
}

func TestCacheMetaCommandWritesFile(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "ci", "cache-config.json")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{
		"cache-meta",
		"--output", output,
		"--credentials-dir", dir,
		"--cache-ref-base", "ghcr.io/example/cache",
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "3 targets") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRootCommandRejectsUnknownSubcommand(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"definitely-not-a-command"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}
