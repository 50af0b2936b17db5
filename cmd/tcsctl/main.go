// Command tcsctl is a thin FleetObserver CLI: snapshot and follow modes
// over tab-separated rows. It is deliberately not a rendering layer —
// coloring and grouping are an external collaborator's job (spec §1);
// snapshot rows are only sorted by service ID.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/observer"
	"github.com/araucaria-project/tcsd/internal/pcontext"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcsctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "tcsctl",
		Short:   "inspect a tcsd fleet via FleetObserver",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the deployment's YAML configuration file")

	root.AddCommand(newSnapshotCmd(&configPath))
	root.AddCommand(newFollowCmd(&configPath))
	return root
}

func newSnapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "print one fleet snapshot as tab-separated rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := newObserver(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			snap, err := obs.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			printSnapshot(os.Stdout, snap)
			return nil
		},
	}
}

func newFollowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "print a snapshot, then a row per fleet change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := newObserver(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			cb := observer.Callbacks{
				OnStart:  func(e *observer.FleetEntry) { printRow(os.Stdout, "+", e) },
				OnStop:   func(e *observer.FleetEntry) { printRow(os.Stdout, "-", e) },
				OnUpdate: func(e *observer.FleetEntry) { printRow(os.Stdout, "~", e) },
			}

			snap, stop, err := obs.Follow(ctx, cb)
			if err != nil {
				return fmt.Errorf("follow: %w", err)
			}
			defer stop()

			printSnapshot(os.Stdout, snap)
			<-sigCh
			return nil
		},
	}
}

func newObserver(ctx context.Context, configPath string) (*observer.FleetObserver, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	pc, err := pcontext.Initialize(ctx, pcontext.Options{
		ConfigFile: configPath,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}
	if pc.Conn() == nil {
		return nil, fmt.Errorf("no bus connection available")
	}

	prefix := pc.SubjectPrefix()
	if prefix == "" {
		prefix = bus.DefaultSubjectPrefix
	}
	return observer.New(pc.Conn(), prefix, log), nil
}

func printSnapshot(w *os.File, snap observer.Snapshot) {
	ids := make([]identity.ServiceID, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE_ID\tPARENT\tSTATUS\tRUNNING\tHEARTBEAT\tUPTIME")
	for _, id := range ids {
		e := snap[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			e.ServiceID, e.Parent, e.Status, e.IsRunning, e.HeartbeatStatus, e.UptimeString())
	}
	_ = tw.Flush()
}

func printRow(w *os.File, marker string, e *observer.FleetEntry) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
		marker, e.ServiceID, e.Parent, e.Status, e.IsRunning, e.HeartbeatStatus, e.UptimeString())
}
