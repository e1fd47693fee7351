package cachemeta

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sebasti810/lumina/internal/devnet"
)

func testTopology(t *testing.T) *devnet.Topology {
	t.Helper()
	topo, err := devnet.DefaultTopology(devnet.Options{CredentialsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("default topology: %v", err)
	}
	return topo
}

func TestGenerateScopesCachePerService(t *testing.T) {
	doc, err := Generate(testTopology(t), Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := doc.ServiceNames(); !reflect.DeepEqual(got, []string{"bridge-0", "bridge-1", "validator"}) {
		t.Fatalf("targets = %v", got)
	}
	for name, target := range doc.Target {
		if len(target.CacheFrom) != 1 || target.CacheFrom[0] != "type=gha,scope="+name {
			t.Fatalf("%s cache-from = %v", name, target.CacheFrom)
		}
		if len(target.CacheTo) != 1 || target.CacheTo[0] != "type=gha,scope="+name+",mode=max" {
			t.Fatalf("%s cache-to = %v", name, target.CacheTo)
		}
		if len(target.Output) != 1 || target.Output[0] != "type=docker" {
			t.Fatalf("%s output = %v", name, target.Output)
		}
	}
}

func TestGenerateRegistryBackend(t *testing.T) {
	doc, err := Generate(testTopology(t), Options{RefBase: "ghcr.io/example/cache/"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	target := doc.Target["validator"]
	if target.CacheFrom[0] != "type=registry,ref=ghcr.io/example/cache/validator" {
		t.Fatalf("cache-from = %v", target.CacheFrom)
	}
	if target.CacheTo[0] != "type=registry,ref=ghcr.io/example/cache/validator,mode=max" {
		t.Fatalf("cache-to = %v", target.CacheTo)
	}
}

func TestGenerateRejectsEmptyTopology(t *testing.T) {
	if _, err := Generate(nil, Options{}); err == nil {
		t.Fatal("expected error for nil topology")
	}
	if _, err := Generate(&devnet.Topology{}, Options{}); err == nil {
		t.Fatal("expected error for topology without services")
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	doc, err := Generate(testTopology(t), Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ci", "cache-config.json")
	if err := Write(doc, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(doc, loaded) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", doc, loaded)
	}
}

func TestEncodeUsesBakeLayout(t *testing.T) {
	doc, err := Generate(testTopology(t), Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(doc, &buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]map[string]map[string][]string
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("parse encoded document: %v", err)
	}
	target, ok := raw["target"]
	if !ok {
		t.Fatalf("document has no top-level target key: %s", buf.String())
	}
	for _, key := range []string{"cache-from", "cache-to", "output"} {
		if _, ok := target["validator"][key]; !ok {
			t.Fatalf("validator target missing %q: %s", key, buf.String())
		}
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("encoded document should end with a newline")
	}
}

func TestLoadRejectsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for document without targets")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
