package build

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1remote "github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

const cacheProbeTimeout = 10 * time.Second

// DegradeCacheSpecs drops cache entries whose backend is unreachable so a
// transient cache failure turns into a full rebuild instead of a failed one.
// Only registry-backed entries are probed; other backends (gha, local) are
// validated by BuildKit itself at solve time and left alone. The returned
// reasons describe every dropped entry.
func DegradeCacheSpecs(ctx context.Context, imports, exports []CacheSpec) (keptImports, keptExports []CacheSpec, reasons []string) {
	probed := map[string]error{}
	probe := func(ref string) error {
		if err, ok := probed[ref]; ok {
			return err
		}
		err := probeRegistryRef(ctx, ref)
		probed[ref] = err
		return err
	}

	filter := func(specs []CacheSpec, direction string) []CacheSpec {
		kept := make([]CacheSpec, 0, len(specs))
		for _, spec := range specs {
			if !strings.EqualFold(spec.Type, "registry") {
				kept = append(kept, spec)
				continue
			}
			ref := spec.Attrs["ref"]
			if ref == "" {
				reasons = append(reasons, fmt.Sprintf("dropping %s cache entry with no ref", direction))
				continue
			}
			if err := probe(ref); err != nil {
				reasons = append(reasons, fmt.Sprintf("dropping %s cache %s: %v", direction, ref, err))
				continue
			}
			kept = append(kept, spec)
		}
		return kept
	}

	keptImports = filter(imports, "import")
	keptExports = filter(exports, "export")
	return keptImports, keptExports, reasons
}

// probeRegistryRef checks that the registry behind ref answers at all. A
// missing manifest is fine (first run has no cache yet); only transport-level
// failures count as an unreachable backend.
func probeRegistryRef(ctx context.Context, ref string) error {
	parsed, err := name.ParseReference(ref, name.WithDefaultTag("latest"))
	if err != nil {
		return fmt.Errorf("parse cache ref: %w", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, cacheProbeTimeout)
	defer cancel()

	_, err = v1remote.Head(parsed, v1remote.WithContext(probeCtx), v1remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err == nil {
		return nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == 404 {
		return nil
	}
	return err
}
