// Command tcsd is the process-flavor launcher (spec §4.9): every declared
// service runs in its own cmd/tcsd-service subprocess, supervised by a
// runner.ProcessRunner.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/kernel"
	"github.com/araucaria-project/tcsd/internal/launcher"
	"github.com/araucaria-project/tcsd/internal/pcontext"
	"github.com/araucaria-project/tcsd/internal/runner"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		noBanner       bool
		noColor        bool
		terminateDelay float64
		serviceBinary  string
	)

	cmd := &cobra.Command{
		Use:     "tcsd",
		Short:   "process-flavor service supervisor",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				configPath:     configPath,
				noBanner:       noBanner,
				noColor:        noColor,
				terminateDelay: time.Duration(terminateDelay * float64(time.Second)),
				serviceBinary:  serviceBinary,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the deployment's YAML configuration file")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "suppress the startup banner")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	cmd.Flags().Float64Var(&terminateDelay, "terminate-delay", 1.0, "seconds to wait for graceful shutdown before force-killing")
	cmd.Flags().StringVar(&serviceBinary, "service-binary", defaultServiceBinaryPath(), "path to the cmd/tcsd-service executable")

	return cmd
}

// defaultServiceBinaryPath assumes cmd/tcsd-service was built into the
// same directory as this binary, the common deployment layout.
func defaultServiceBinaryPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "tcsd-service"
	}
	name := "tcsd-service"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), name)
}

type runOptions struct {
	configPath     string
	noBanner       bool
	noColor        bool
	terminateDelay time.Duration
	serviceBinary  string
}

func run(ctx context.Context, opts runOptions) error {
	_ = godotenv.Load()

	log := newLogger(opts.noColor)

	if !opts.noBanner {
		fmt.Fprintf(os.Stdout, "tcsd %s (process flavor)\n", version)
	}

	if os.Getpid() == 1 {
		if err := kernel.Default.Signals.SetSubreaper(); err != nil {
			log.Warn().Err(err).Msg("failed to mark process as child subreaper")
		}
	}

	l := launcher.New(launcher.Options{
		Flavor:     launcher.FlavorProcess,
		ConfigFile: opts.configPath,
		Factory:    processRunnerFactory(opts.serviceBinary, log),
		Log:        log,
	})

	if err := l.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing launcher: %w", err)
	}
	if err := l.StartAll(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	return l.Run(ctx, opts.terminateDelay)
}

// processRunnerFactory builds the launcher.RunnerFactory for the process
// flavor: one ProcessRunner per declaration, execing serviceBinary with
// a per-service config file generated from decl's merged fields.
func processRunnerFactory(serviceBinary string, log zerolog.Logger) launcher.RunnerFactory {
	return func(decl config.ServiceDeclaration, launcherID identity.LauncherID, subjectPrefix string) runner.Runner {
		serviceID, err := identity.Build(decl.Type, decl.Variant)
		if err != nil {
			log.Error().Err(err).Str("type", decl.Type).Msg("invalid service declaration, skipping")
			serviceID = identity.ServiceID(decl.Type + ".invalid")
		}
		runnerID := identity.BuildRunnerID(launcherID, decl.Type)

		configFile, err := writeServiceConfigFile(decl)
		if err != nil {
			log.Error().Err(err).Str("service_id", string(serviceID)).Msg("failed to stage per-service config file")
		}

		// The launcher's own Initialize already opened the process-wide
		// pcontext singleton before invoking this factory; Initialize here
		// just hands back that same instance.
		pc, _ := pcontext.Initialize(context.Background(), pcontext.Options{Log: log})

		return runner.NewProcessRunner(runner.ProcessRunnerSpec{
			ServiceBinary:  serviceBinary,
			ConfigFile:     configFile,
			Variant:        decl.Variant,
			ParentName:     "launcher." + string(launcherID),
			ServiceID:      string(serviceID),
			RunnerID:       string(runnerID),
			Restart:        decl.Restart,
			RestartSec:     decl.RestartSec,
			RestartMax:     decl.RestartMax,
			RestartWindow:  decl.RestartWindow,
			LogConfig:      config.DefaultLoggingConfig(),
			ServiceLogging: decl.Logging,
			Conn:           pc.Conn(),
			SubjectPrefix:  subjectPrefix,
			Log:            log,
		})
	}
}

// writeServiceConfigFile stages a minimal single-service YAML document
// under the OS temp directory for cmd/tcsd-service to read back: spec
// §6.3's subprocess CLI contract only takes [config_file, variant], so
// the subprocess recovers its own service_type/module/restart fields by
// reading back exactly what the launcher resolved for it.
func writeServiceConfigFile(decl config.ServiceDeclaration) (string, error) {
	doc := map[string]any{
		"services": []map[string]any{serviceDeclarationToMap(decl)},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling staged config: %w", err)
	}

	dir, err := os.MkdirTemp("", "tcsd-service-*")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	path := filepath.Join(dir, "service.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing staged config: %w", err)
	}
	return path, nil
}

func serviceDeclarationToMap(decl config.ServiceDeclaration) map[string]any {
	m := map[string]any{
		"type":           decl.Type,
		"variant":        decl.Variant,
		"module":         decl.Module,
		"restart":        string(decl.Restart),
		"restart_sec":    decl.RestartSec,
		"restart_max":    decl.RestartMax,
		"restart_window": decl.RestartWindow,
	}
	for k, v := range decl.Extra {
		m[k] = v
	}
	return m
}

func newLogger(noColor bool) zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}
	return zerolog.New(writer).With().Timestamp().Logger()
}
