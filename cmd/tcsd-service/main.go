// Command tcsd-service is the subprocess entry point a ProcessRunner execs
// (spec §6.3, "Services launched as subprocesses"): it boots a
// pcontext.Context, binds a controller.Controller to the one service
// declaration it was given, and blocks until stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/controller"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/kernel"
	"github.com/araucaria-project/tcsd/internal/pcontext"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcsd-service: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		runnerID   string
		parentName string
		noBanner   bool
	)

	cmd := &cobra.Command{
		Use:  "tcsd-service [config_file] [variant]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], runnerID, parentName, noBanner)
		},
	}

	cmd.Flags().StringVar(&runnerID, "runner-id", "", "the runner_id assigned by the parent launcher")
	cmd.Flags().StringVar(&parentName, "parent-name", "", "the launcher's service_id, for parent-based grouping")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "suppress the startup banner")

	return cmd
}

func run(ctx context.Context, configFile, variant, runnerID, parentName string, noBanner bool) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	decl, err := resolveDeclaration(configFile, variant)
	if err != nil {
		return fmt.Errorf("configuration fatal: %w", err)
	}

	serviceID, err := identity.Build(decl.Type, decl.Variant)
	if err != nil {
		return fmt.Errorf("configuration fatal: %w", err)
	}

	if !noBanner {
		fmt.Fprintf(os.Stdout, "tcsd-service: %s\n", serviceID)
	}

	pc, err := pcontext.Initialize(ctx, pcontext.Options{
		ConfigFile: configFile,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("initializing process context: %w", err)
	}

	ctrl := controller.New(decl.Module, decl.Variant, string(serviceID), runnerID, log)
	if err := ctrl.Initialize(ctx, serviceDeclarationConfigMap(decl), pc.Conn(), pc.SubjectPrefix()); err != nil {
		return fmt.Errorf("binding service: %w", err)
	}
	pc.RegisterController(ctrl)

	if err := ctrl.StartService(ctx); err != nil {
		return fmt.Errorf("service start failure: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := kernel.Default.Signals.Notify(os.Interrupt, syscall.SIGTERM)
	defer kernel.Default.Signals.Stop(sigCh)

	done := make(chan error, 1)
	go func() {
		switch ctrl.Shape() {
		case "blocking":
			done <- ctrl.RunBlocking(runCtx)
		case "oneshot":
			done <- ctrl.RunOneShot(runCtx)
		default:
			<-runCtx.Done()
			done <- nil
		}
	}()

	select {
	case <-sigCh:
		log.Info().Msg("received signal, shutting down")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("service run loop exited with error")
		}
	}

	if err := ctrl.StopService(context.Background()); err != nil {
		log.Warn().Err(err).Msg("error stopping service")
	}
	return ctrl.Shutdown(context.Background())
}

// resolveDeclaration reads configFile (staged by the launcher per spec
// §6.3's subprocess CLI contract of positional [config_file, variant]
// only) and returns the unique service declaration matching variant.
// Ambiguity (more than one declared type sharing variant in the same
// file) is a configuration error, since the CLI surface gives this
// process no other way to disambiguate which service to bind.
func resolveDeclaration(configFile, variant string) (config.ServiceDeclaration, error) {
	mgr := config.NewManager()
	mgr.AddSource(config.DefaultsSource{})
	mgr.AddSource(config.FileSource{Path: configFile})

	raw, err := mgr.GetRawConfig()
	if err != nil {
		return config.ServiceDeclaration{}, fmt.Errorf("reading %s: %w", configFile, err)
	}
	decoded, err := config.DecodeRawConfig(raw)
	if err != nil {
		return config.ServiceDeclaration{}, fmt.Errorf("decoding %s: %w", configFile, err)
	}

	var match *config.ServiceDeclaration
	for i := range decoded.Services {
		if decoded.Services[i].Variant == variant {
			if match != nil {
				return config.ServiceDeclaration{}, fmt.Errorf(
					"ambiguous variant %q: multiple declared services share it in %s", variant, configFile)
			}
			match = &decoded.Services[i]
		}
	}
	if match == nil {
		return config.ServiceDeclaration{}, fmt.Errorf("no declared service with variant %q in %s", variant, configFile)
	}
	return *match, nil
}

func serviceDeclarationConfigMap(decl config.ServiceDeclaration) map[string]any {
	m := make(map[string]any, len(decl.Extra))
	for k, v := range decl.Extra {
		m[k] = v
	}
	return m
}
