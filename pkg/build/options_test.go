package build

import (
	"reflect"
	"testing"
)

func TestParseCacheSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CacheSpec
		wantErr bool
	}{
		{
			name:  "gha with scope",
			input: "type=gha,scope=validator",
			want:  CacheSpec{Type: "gha", Attrs: map[string]string{"scope": "validator"}},
		},
		{
			name:  "registry with mode",
			input: "type=registry,ref=ghcr.io/example/cache/bridge-0,mode=max",
			want: CacheSpec{Type: "registry", Attrs: map[string]string{
				"ref":  "ghcr.io/example/cache/bridge-0",
				"mode": "max",
			}},
		},
		{
			name:  "bare ref shorthand",
			input: "ghcr.io/example/cache",
			want:  CacheSpec{Type: "registry", Attrs: map[string]string{"ref": "ghcr.io/example/cache"}},
		},
		{
			name:  "whitespace and case tolerated",
			input: " TYPE=local , src=/tmp/cache ",
			want:  CacheSpec{Type: "local", Attrs: map[string]string{"src": "/tmp/cache"}},
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCacheSpec(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.input, err)
			}
			if got.Type != tc.want.Type || !reflect.DeepEqual(got.Attrs, tc.want.Attrs) {
				t.Fatalf("parse %q = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizePlatforms(t *testing.T) {
	got := NormalizePlatforms([]string{" linux/amd64 ", "", "linux/arm64", "linux/amd64"})
	want := []string{"linux/amd64", "linux/arm64"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("normalize = %v, want %v", got, want)
	}
}

func TestDefaultBuilderAddressEnvOverride(t *testing.T) {
	t.Setenv("DEVNET_BUILDKIT_HOST", "tcp://10.0.0.5:1234")
	t.Setenv("BUILDKIT_HOST", "tcp://ignored:1")
	if got := DefaultBuilderAddress(); got != "tcp://10.0.0.5:1234" {
		t.Fatalf("builder address = %q", got)
	}

	t.Setenv("DEVNET_BUILDKIT_HOST", "")
	if got := DefaultBuilderAddress(); got != "tcp://ignored:1" {
		t.Fatalf("builder address = %q", got)
	}
}

func TestDefaultCacheDirEnvOverride(t *testing.T) {
	t.Setenv("DEVNET_BUILDKIT_CACHE", "/var/cache/devnet")
	if got := DefaultCacheDir(); got != "/var/cache/devnet" {
		t.Fatalf("cache dir = %q", got)
	}
}
