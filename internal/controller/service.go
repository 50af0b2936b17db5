// Package controller implements ServiceController (spec §4.7): the
// in-process owner of one service instance, its class/config discovery,
// and the three lifecycle shapes a service implementation may present.
package controller

import "context"

// Service is the minimal surface every service implementation shares:
// attachment points the controller wires before Start/Execute is called.
type Service interface {
	// Attach gives the service its runtime collaborators before any
	// lifecycle method runs: the controller, its bound config, and a
	// logger scoped to the service_id.
	Attach(rt Runtime)
}

// BlockingService is spec §4.7's "blocking permanent" shape: a service
// that owns its own run loop. RunService must return once IsRunning
// becomes false (signalled via the context passed to OnStart).
type BlockingService interface {
	Service
	OnStart(ctx context.Context) error
	RunService(ctx context.Context) error
	OnStop(ctx context.Context) error
}

// NonBlockingService is spec §4.7's "non-blocking permanent" shape: the
// service spawns its own background work and is responsible for winding
// it down when ctx is cancelled.
type NonBlockingService interface {
	Service
	StartService(ctx context.Context) error
	StopService(ctx context.Context) error
}

// OneShotService is spec §4.7's "single-shot" shape: Execute runs once; on
// return the controller transitions to Shutdown and the runner treats the
// exit as clean regardless of which error (if any) Execute returned.
type OneShotService interface {
	Service
	Execute(ctx context.Context) error
}
