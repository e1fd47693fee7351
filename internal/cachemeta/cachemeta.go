// Package cachemeta generates the per-service build cache document consumed
// by the image build stage. The document follows the bake file layout: one
// target per service, each carrying cache-from, cache-to, and output entries.
package cachemeta

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sebasti810/lumina/internal/devnet"
)

// Target holds the cache wiring for one service.
type Target struct {
	CacheFrom []string `json:"cache-from"`
	CacheTo   []string `json:"cache-to"`
	Output    []string `json:"output"`
}

// Document is the generated artifact. Serialized as
// {"target": {<service>: {...}}}.
type Document struct {
	Target map[string]Target `json:"target"`
}

// Options configure document generation.
type Options struct {
	// RefBase switches the cache backend from the CI layer cache to a
	// registry: refs become <RefBase>/<service>. Empty selects type=gha
	// scoped by service name.
	RefBase string
}

// Generate produces one target per topology service. Cache entries are keyed
// by a per-service scope so the layer caches of the three images never
// collide; output is always the local docker exporter since the stack
// launcher consumes images from the local runtime, not a registry.
func Generate(topo *devnet.Topology, opts Options) (*Document, error) {
	if topo == nil || len(topo.Services) == 0 {
		return nil, fmt.Errorf("no services to generate cache metadata for")
	}
	doc := &Document{Target: make(map[string]Target, len(topo.Services))}
	for _, svc := range topo.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("service with empty name")
		}
		var from, to string
		if base := strings.TrimRight(opts.RefBase, "/"); base != "" {
			ref := fmt.Sprintf("%s/%s", base, svc.Name)
			from = fmt.Sprintf("type=registry,ref=%s", ref)
			to = fmt.Sprintf("type=registry,ref=%s,mode=max", ref)
		} else {
			from = fmt.Sprintf("type=gha,scope=%s", svc.Name)
			to = fmt.Sprintf("type=gha,scope=%s,mode=max", svc.Name)
		}
		doc.Target[svc.Name] = Target{
			CacheFrom: []string{from},
			CacheTo:   []string{to},
			Output:    []string{"type=docker"},
		}
	}
	return doc, nil
}

// Write serializes the document to path, creating parent directories.
func Write(doc *Document, path string) error {
	if doc == nil {
		return fmt.Errorf("nil cache document")
	}
	if path == "" {
		return fmt.Errorf("cache document path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache document dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache document: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache document: %w", err)
	}
	return nil
}

// Encode writes the document as indented JSON to w.
func Encode(doc *Document, w io.Writer) error {
	if doc == nil {
		return fmt.Errorf("nil cache document")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache document: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads a previously written document back from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache document %s: %w", path, err)
	}
	if len(doc.Target) == 0 {
		return nil, fmt.Errorf("cache document %s has no targets", path)
	}
	return &doc, nil
}

// ServiceNames returns the document's target names sorted, mostly for
// deterministic logging and tests.
func (d *Document) ServiceNames() []string {
	names := make([]string, 0, len(d.Target))
	for name := range d.Target {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
