package images

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sebasti810/lumina/internal/cachemeta"
	"github.com/sebasti810/lumina/internal/devnet"
	"github.com/sebasti810/lumina/pkg/build"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []build.ImageBuildOptions
	fail  map[string]error
}

func (f *fakeRunner) BuildImage(_ context.Context, opts build.ImageBuildOptions) (*build.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	for tag, err := range f.fail {
		for _, t := range opts.Tags {
			if t == tag {
				return nil, err
			}
		}
	}
	return &build.Result{Digest: "sha256:deadbeef"}, nil
}

func buildFixtures(t *testing.T) (*devnet.Topology, *cachemeta.Document) {
	t.Helper()
	topo, err := devnet.DefaultTopology(devnet.Options{CredentialsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("default topology: %v", err)
	}
	doc, err := cachemeta.Generate(topo, cachemeta.Options{})
	if err != nil {
		t.Fatalf("generate cache document: %v", err)
	}
	return topo, doc
}

func TestBuildAllBuildsEveryService(t *testing.T) {
	topo, doc := buildFixtures(t)
	runner := &fakeRunner{}

	results, err := BuildAll(context.Background(), runner, topo, doc, BuildOptions{Parallelism: 1})
	if err != nil {
		t.Fatalf("build all: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
	if results[0].Service != "bridge-0" || results[2].Service != "validator" {
		t.Fatalf("results not sorted: %v", results)
	}

	byTag := map[string]build.ImageBuildOptions{}
	for _, call := range runner.calls {
		if len(call.Tags) != 1 {
			t.Fatalf("call tags = %v", call.Tags)
		}
		byTag[call.Tags[0]] = call
	}
	for _, svc := range topo.Services {
		call, ok := byTag[svc.Image]
		if !ok {
			t.Fatalf("service %s was never built, calls: %v", svc.Name, runner.calls)
		}
		if !call.Load {
			t.Fatalf("service %s not loaded into the local runtime", svc.Name)
		}
		if call.DockerfilePath != svc.Build.Dockerfile {
			t.Fatalf("service %s dockerfile = %q", svc.Name, call.DockerfilePath)
		}
	}
}

func TestBuildAllScopesCachePerService(t *testing.T) {
	topo, doc := buildFixtures(t)
	runner := &fakeRunner{}

	if _, err := BuildAll(context.Background(), runner, topo, doc, BuildOptions{Parallelism: 1}); err != nil {
		t.Fatalf("build all: %v", err)
	}

	scopes := map[string]struct{}{}
	for _, call := range runner.calls {
		if len(call.CacheImports) != 1 || len(call.CacheExports) != 1 {
			t.Fatalf("cache specs = %v / %v", call.CacheImports, call.CacheExports)
		}
		imp := call.CacheImports[0]
		if imp.Type != "gha" {
			t.Fatalf("cache import type = %q", imp.Type)
		}
		scope := imp.Attrs["scope"]
		if _, dup := scopes[scope]; dup {
			t.Fatalf("cache scope %q shared between services", scope)
		}
		scopes[scope] = struct{}{}
		if call.CacheExports[0].Attrs["mode"] != "max" {
			t.Fatalf("cache export attrs = %v", call.CacheExports[0].Attrs)
		}
	}
	if len(scopes) != 3 {
		t.Fatalf("scopes = %v", scopes)
	}
}

func TestBuildAllPropagatesBuildFailure(t *testing.T) {
	topo, doc := buildFixtures(t)
	boom := errors.New("solve failed")
	runner := &fakeRunner{fail: map[string]error{"lumina-ci/validator:latest": boom}}

	_, err := BuildAll(context.Background(), runner, topo, doc, BuildOptions{Parallelism: 1})
	if err == nil {
		t.Fatal("expected build failure")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "validator") {
		t.Fatalf("error %q does not name the failing service", err)
	}
}

func TestBuildAllRejectsDocumentWithMissingTarget(t *testing.T) {
	topo, doc := buildFixtures(t)
	delete(doc.Target, "bridge-1")

	_, err := BuildAll(context.Background(), &fakeRunner{}, topo, doc, BuildOptions{Parallelism: 1})
	if err == nil {
		t.Fatal("expected error for missing cache target")
	}
	if !strings.Contains(err.Error(), "bridge-1") {
		t.Fatalf("error = %q", err)
	}
}

func TestMergeArgs(t *testing.T) {
	merged := mergeArgs(
		map[string]string{"A": "base", "B": "base"},
		map[string]string{"B": "override", "C": "extra"},
	)
	if merged["A"] != "base" || merged["B"] != "override" || merged["C"] != "extra" {
		t.Fatalf("merged = %v", merged)
	}
}
