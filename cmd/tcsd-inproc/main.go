// Command tcsd-inproc is the in-process-flavor launcher (spec §4.9, "In-
// process flavor"): every declared service is hosted as a
// controller.Controller inside this one OS process instead of a
// subprocess.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/launcher"
	"github.com/araucaria-project/tcsd/internal/pcontext"
	"github.com/araucaria-project/tcsd/internal/runner"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcsd-inproc: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		noBanner       bool
		noColor        bool
		terminateDelay float64
	)

	cmd := &cobra.Command{
		Use:     "tcsd-inproc",
		Short:   "in-process-flavor service supervisor",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, noBanner, noColor, time.Duration(terminateDelay*float64(time.Second)))
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the deployment's YAML configuration file")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "suppress the startup banner")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	cmd.Flags().Float64Var(&terminateDelay, "terminate-delay", 1.0, "seconds to wait for graceful shutdown before force-killing")

	return cmd
}

func run(ctx context.Context, configPath string, noBanner, noColor bool, terminateDelay time.Duration) error {
	_ = godotenv.Load()

	writer := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}
	log := zerolog.New(writer).With().Timestamp().Logger()

	if !noBanner {
		fmt.Fprintf(os.Stdout, "tcsd-inproc %s (in-process flavor)\n", version)
	}

	l := launcher.New(launcher.Options{
		Flavor:     launcher.FlavorInProcess,
		ConfigFile: configPath,
		Factory:    inProcessRunnerFactory(log),
		Log:        log,
	})

	if err := l.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing launcher: %w", err)
	}
	if err := l.StartAll(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	return l.Run(ctx, terminateDelay)
}

// inProcessRunnerFactory builds the launcher.RunnerFactory for the
// in-process flavor: one InProcessRunner per declaration, binding a
// Controller directly to decl.Module rather than spawning a subprocess.
func inProcessRunnerFactory(log zerolog.Logger) launcher.RunnerFactory {
	return func(decl config.ServiceDeclaration, launcherID identity.LauncherID, subjectPrefix string) runner.Runner {
		serviceID, err := identity.Build(decl.Type, decl.Variant)
		if err != nil {
			log.Error().Err(err).Str("type", decl.Type).Msg("invalid service declaration, skipping")
			serviceID = identity.ServiceID(decl.Type + ".invalid")
		}
		runnerID := identity.BuildRunnerID(launcherID, decl.Type)

		pc, _ := pcontext.Initialize(context.Background(), pcontext.Options{Log: log})

		return runner.NewInProcessRunner(runner.InProcessRunnerSpec{
			ModuleName:    decl.Module,
			InstanceID:    decl.Variant,
			ServiceID:     string(serviceID),
			RunnerID:      string(runnerID),
			RawConfig:     decl.Extra,
			Restart:       decl.Restart,
			RestartSec:    decl.RestartSec,
			RestartMax:    decl.RestartMax,
			RestartWindow: decl.RestartWindow,
			Conn:          pc.Conn(),
			SubjectPrefix: subjectPrefix,
			Log:           log,
		})
	}
}
