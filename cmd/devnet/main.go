// main.go bootstraps the devnet CLI: it builds the root Cobra command, wires
// viper env/config binding, and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sebasti810/lumina/internal/config"
	"github.com/sebasti810/lumina/internal/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	logLevel := "info"
	cmd := &cobra.Command{
		Use:           "devnet",
		Short:         "Bootstrap the Lumina CI devnet",
		Long:          "devnet builds the validator and bridge images, launches the local stack, and mints node auth tokens, in that order.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for devnet output (debug, info, warn, error)")

	upCmd := newUpCommand(opts, &logLevel)
	buildCmd := newBuildCommand(opts, &logLevel)
	startCmd := newStartCommand(opts, &logLevel)
	tokensCmd := newTokensCommand(opts, &logLevel)
	downCmd := newDownCommand(opts, &logLevel)
	statusCmd := newStatusCommand(opts)
	cacheMetaCmd := newCacheMetaCommand(opts)
	cmd.AddCommand(upCmd, buildCmd, startCmd, tokensCmd, downCmd, statusCmd, cacheMetaCmd, newVersionCommand())

	cmd.Example = `  # Build images, start the stack, and generate node tokens
  devnet up

  # Rebuild with a registry-backed cache instead of the CI layer cache
  devnet build --cache-ref-base ghcr.io/example/lumina-cache

  # Tear everything down (credentials are preserved)
  devnet down`

	bindViper(cmd, upCmd, buildCmd, startCmd, tokensCmd, downCmd, statusCmd, cacheMetaCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("DEVNET")
	v.AutomaticEnv()
	configFile := os.Getenv("DEVNET_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "lumina-devnet"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "lumina-devnet"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: increase --timeout or check that the stack came up with 'devnet status'.", err)
	case errors.As(err, &stageErr):
		switch stageErr.Stage {
		case pipeline.StageBuild:
			message = fmt.Sprintf("%s\nHint: nothing was launched. Inspect the BuildKit output above and the Dockerfiles under ci/.", err)
		case pipeline.StageLaunch:
			message = fmt.Sprintf("%s\nHint: the stack may be partially created; run 'devnet down' before retrying.", err)
		case pipeline.StageTokens:
			message = fmt.Sprintf("%s\nHint: the stack is still running. Fix the script and re-run 'devnet tokens'.", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
