package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/docker/cli/cli/config"
	"github.com/moby/buildkit/client"
	"github.com/moby/buildkit/session"
	"github.com/moby/buildkit/session/auth/authprovider"
	"github.com/moby/buildkit/util/progress/progresswriter"
)

// BuildImage executes a BuildKit solve using the dockerfile frontend and,
// when requested, loads the result into the local docker runtime through the
// docker exporter. It never pushes to a registry.
func BuildImage(ctx context.Context, opts ImageBuildOptions) (*Result, error) {
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	absContext, err := filepath.Abs(opts.ContextDir)
	if err != nil {
		return nil, fmt.Errorf("resolve context: %w", err)
	}
	if err := ensureDirExists(absContext); err != nil {
		return nil, fmt.Errorf("context %s: %w", absContext, err)
	}

	dockerfilePath := opts.DockerfilePath
	if dockerfilePath == "" {
		dockerfilePath = filepath.Join(absContext, "Dockerfile")
	}
	if !filepath.IsAbs(dockerfilePath) {
		dockerfilePath = filepath.Join(absContext, dockerfilePath)
	}
	dockerfileDir, dockerfileName, err := splitDockerfile(dockerfilePath)
	if err != nil {
		return nil, err
	}

	if len(opts.Tags) == 0 {
		return nil, errors.New("at least one tag is required")
	}
	opts.Platforms = NormalizePlatforms(opts.Platforms)
	if opts.BuildArgs == nil {
		opts.BuildArgs = map[string]string{}
	}
	if opts.ProgressOutput == nil {
		opts.ProgressOutput = os.Stderr
	}
	if opts.ProgressMode == "" {
		opts.ProgressMode = "auto"
	}
	dockerCfg := opts.DockerConfig
	if dockerCfg == nil {
		dockerCfg = config.LoadDefaultConfigFile(os.Stderr)
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	builderAddr := opts.BuilderAddr
	if builderAddr == "" {
		builderAddr = DefaultBuilderAddress()
	}
	cf := clientFactory{
		allowFallback: opts.AllowBuilderFallback,
		logWriter:     opts.ProgressOutput,
	}
	c, _, err := cf.new(clientCtx, builderAddr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)}
	}

	frontendAttrs := map[string]string{
		"filename": dockerfileName,
		"platform": strings.Join(opts.Platforms, ","),
	}
	if opts.Target != "" {
		frontendAttrs["target"] = opts.Target
	}
	if opts.Pull {
		frontendAttrs["pull"] = "true"
	}
	if opts.NoCache {
		frontendAttrs["no-cache"] = ""
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		frontendAttrs["build-arg:"+k] = opts.BuildArgs[k]
	}

	attachable := []session.Attachable{
		authprovider.NewDockerAuthProvider(authprovider.DockerAuthProviderConfig{
			ConfigFile: dockerCfg,
		}),
	}

	solveOpt := client.SolveOpt{
		Frontend:      "dockerfile.v0",
		FrontendAttrs: frontendAttrs,
		LocalDirs: map[string]string{
			"context":    absContext,
			"dockerfile": dockerfileDir,
		},
		Session: attachable,
	}

	if opts.NoCache {
		if len(opts.CacheImports) > 0 {
			fmt.Fprintln(opts.ProgressOutput, "warning: ignoring cache imports because no-cache is set")
		}
	} else {
		solveOpt.CacheImports = convertCacheSpecs(opts.CacheImports)
		solveOpt.CacheExports = convertCacheSpecs(opts.CacheExports)
		// Always keep a local layer cache so repeated devnet boots stay warm
		// even when the remote backend is disabled.
		solveOpt.CacheExports = append(solveOpt.CacheExports, client.CacheOptionsEntry{
			Type:  "local",
			Attrs: map[string]string{"dest": cacheDir, "mode": "max"},
		})
		solveOpt.CacheImports = append([]client.CacheOptionsEntry{{
			Type:  "local",
			Attrs: map[string]string{"src": cacheDir},
		}}, solveOpt.CacheImports...)
	}

	var loadTar string
	if opts.Load {
		loadTar = filepath.Join(cacheDir, fmt.Sprintf("%s.tar", sanitizeName(opts.Tags[0])))
		output, err := tarWriter(loadTar)
		if err != nil {
			return nil, err
		}
		solveOpt.Exports = append(solveOpt.Exports, client.ExportEntry{
			Type:   client.ExporterDocker,
			Attrs:  map[string]string{"name": strings.Join(opts.Tags, ",")},
			Output: output,
		})
	} else {
		solveOpt.Exports = append(solveOpt.Exports, client.ExportEntry{
			Type:  client.ExporterImage,
			Attrs: map[string]string{"name": strings.Join(opts.Tags, ",")},
		})
	}

	pw, err := progresswriter.NewPrinter(context.TODO(), opts.ProgressOutput, opts.ProgressMode)
	if err != nil {
		return nil, fmt.Errorf("create progress UI: %w", err)
	}

	resp, err := c.Solve(clientCtx, nil, solveOpt, pw.Status())
	<-pw.Done()
	if perr := pw.Err(); perr != nil {
		err = errors.Join(err, perr)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Digest:           exporterDigest(resp.ExporterResponse),
		ExporterResponse: resp.ExporterResponse,
	}

	if opts.Load {
		if err := dockerLoad(ctx, loadTar, opts.ProgressOutput); err != nil {
			return nil, err
		}
		os.Remove(loadTar)
		result.LoadedTags = append([]string(nil), opts.Tags...)
	}

	return result, nil
}

func exporterDigest(resp map[string]string) string {
	if d := resp["containerimage.digest"]; d != "" {
		return d
	}
	return resp["oci.digest"]
}

func convertCacheSpecs(specs []CacheSpec) []client.CacheOptionsEntry {
	entries := make([]client.CacheOptionsEntry, 0, len(specs))
	for _, spec := range specs {
		if spec.Type == "" {
			continue
		}
		attrs := map[string]string{}
		for k, v := range spec.Attrs {
			attrs[k] = v
		}
		entries = append(entries, client.CacheOptionsEntry{Type: spec.Type, Attrs: attrs})
	}
	return entries
}

func tarWriter(path string) (func(map[string]string) (io.WriteCloser, error), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return func(map[string]string) (io.WriteCloser, error) {
		return file, nil
	}, nil
}

// dockerLoad imports the exported image tar into the local docker runtime.
// The launch stage requires images to already be present; this is the only
// place the build stage touches the runtime.
func dockerLoad(ctx context.Context, tarPath string, logWriter io.Writer) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker CLI not found for image load: %w", err)
	}
	cmd := exec.CommandContext(ctx, "docker", "load", "-i", tarPath)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 && logWriter != nil {
		_, _ = logWriter.Write(out)
	}
	if err != nil {
		return fmt.Errorf("docker load %s: %w", tarPath, err)
	}
	return nil
}

func ensureDirExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func splitDockerfile(path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("stat dockerfile: %w", err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("dockerfile path %s is a directory", path)
	}
	return filepath.Dir(path), filepath.Base(path), nil
}

func sanitizeName(name string) string {
	cleaned := strings.ToLower(name)
	for _, ch := range []string{"/", ":", "@", " ", "_"} {
		cleaned = strings.ReplaceAll(cleaned, ch, "-")
	}
	cleaned = strings.Trim(cleaned, "-.")
	if cleaned == "" {
		cleaned = "image"
	}
	return cleaned
}
