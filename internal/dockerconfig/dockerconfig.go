// Package dockerconfig resolves the Docker CLI credential configuration the
// build stage hands to BuildKit's auth provider, so registry-backed cache
// refs use the same login state as the docker CLI.
package dockerconfig

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/configfile"
	"github.com/docker/cli/cli/config/credentials"
)

// LoadConfigFile loads a Docker config from path, or the default config when
// path is empty. A missing explicit file yields an empty config rather than
// an error: a fresh CI runner has no docker login state yet.
func LoadConfigFile(path string, stderr io.Writer) (*configfile.ConfigFile, error) {
	if path == "" {
		cfg := config.LoadDefaultConfigFile(stderr)
		if cfg == nil {
			return nil, errors.New("unable to load docker config")
		}
		return cfg, nil
	}
	cfg := configfile.New(path)
	if data, err := os.ReadFile(path); err == nil {
		if len(data) > 0 {
			if err := cfg.LoadFromReader(bytes.NewReader(data)); err != nil {
				return nil, err
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if !cfg.ContainsAuth() {
		cfg.CredentialsStore = credentials.DetectDefaultStore(cfg.CredentialsStore)
	}
	return cfg, nil
}
