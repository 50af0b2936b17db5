package launcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/identity"
	"github.com/araucaria-project/tcsd/internal/launcher"
	"github.com/araucaria-project/tcsd/internal/runner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a minimal runner.Runner double that records lifecycle calls
// without touching a real process or bus.
type fakeRunner struct {
	serviceID string

	mu       sync.Mutex
	state    runner.State
	declared int32
	started  int32
	stopped  int32

	startErr error
	stopErr  error
}

func newFakeRunner(serviceID string) *fakeRunner {
	return &fakeRunner{serviceID: serviceID, state: runner.StateCreated}
}

func (r *fakeRunner) ServiceID() string { return r.serviceID }

func (r *fakeRunner) Declare(ctx context.Context) { atomic.AddInt32(&r.declared, 1) }

func (r *fakeRunner) Start(ctx context.Context) error {
	atomic.AddInt32(&r.started, 1)
	if r.startErr != nil {
		return r.startErr
	}
	r.mu.Lock()
	r.state = runner.StateRunning
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) Stop(ctx context.Context, terminateDelay time.Duration) error {
	atomic.AddInt32(&r.stopped, 1)
	if r.stopErr != nil {
		return r.stopErr
	}
	r.mu.Lock()
	r.state = runner.StateStopped
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) State() runner.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func newTestLauncher(t *testing.T, runners map[string]*fakeRunner) *launcher.Launcher {
	t.Helper()
	factory := func(decl config.ServiceDeclaration, launcherID identity.LauncherID, subjectPrefix string) runner.Runner {
		serviceID := decl.Type + "." + decl.Variant
		r := newFakeRunner(serviceID)
		runners[serviceID] = r
		return r
	}

	return launcher.New(launcher.Options{
		Flavor:  launcher.FlavorInProcess,
		WorkDir: t.TempDir(),
		Factory: factory,
		Log:     zerolog.Nop(),
	})
}

// writeConfigFile writes a minimal YAML config declaring the given
// "type.variant" services so Launcher.Initialize has something to build
// runners for.
func writeConfigFile(t *testing.T, serviceIDs ...string) string {
	t.Helper()
	services := ""
	for _, id := range serviceIDs {
		typ, variant, err := splitServiceID(id)
		require.NoError(t, err)
		services += fmt.Sprintf("  - type: %s\n    variant: %s\n", typ, variant)
	}
	content := "nats:\n  required: false\nservices:\n" + services

	path := filepath.Join(t.TempDir(), "tcsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func splitServiceID(id string) (string, string, error) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return id[:i], id[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no dot in %q", id)
}

func newTestLauncherWithConfig(t *testing.T, configPath string, runners map[string]*fakeRunner) *launcher.Launcher {
	t.Helper()
	factory := func(decl config.ServiceDeclaration, launcherID identity.LauncherID, subjectPrefix string) runner.Runner {
		serviceID := decl.Type + "." + decl.Variant
		r := newFakeRunner(serviceID)
		runners[serviceID] = r
		return r
	}

	return launcher.New(launcher.Options{
		Flavor:     launcher.FlavorInProcess,
		ConfigFile: configPath,
		WorkDir:    t.TempDir(),
		Factory:    factory,
		Log:        zerolog.Nop(),
	})
}

func TestLauncher_InitializeWithNoServicesWarnsButSucceeds(t *testing.T) {
	runners := map[string]*fakeRunner{}
	l := newTestLauncher(t, runners)

	err := l.Initialize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runners)

	require.NoError(t, l.Shutdown(context.Background(), time.Second))
}

func TestLauncher_StartAllStartsEveryRunner(t *testing.T) {
	runners := map[string]*fakeRunner{}
	configPath := writeConfigFile(t, "mount.az", "camera.main")
	l := newTestLauncherWithConfig(t, configPath, runners)
	require.NoError(t, l.Initialize(context.Background()))
	require.Len(t, runners, 2)

	require.NoError(t, l.StartAll(context.Background()))

	for id, r := range runners {
		assert.Equal(t, int32(1), atomic.LoadInt32(&r.declared), "service %s not declared", id)
		assert.Equal(t, int32(1), atomic.LoadInt32(&r.started), "service %s not started", id)
		assert.Equal(t, runner.StateRunning, r.State())
	}

	require.NoError(t, l.Shutdown(context.Background(), time.Second))
}

func TestLauncher_ShutdownStopsAllRunnersAndIsIdempotent(t *testing.T) {
	runners := map[string]*fakeRunner{}
	configPath := writeConfigFile(t, "mount.az")
	l := newTestLauncherWithConfig(t, configPath, runners)
	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.StartAll(context.Background()))

	require.NoError(t, l.Shutdown(context.Background(), time.Second))
	require.NoError(t, l.Shutdown(context.Background(), time.Second))

	for id, r := range runners {
		assert.Equal(t, int32(1), atomic.LoadInt32(&r.stopped), "service %s stopped more than once", id)
	}

	select {
	case <-l.Done():
	default:
		t.Fatal("expected Done() channel to be closed after Shutdown")
	}
}

func TestLauncher_StopAllReportsFirstError(t *testing.T) {
	runners := map[string]*fakeRunner{}
	configPath := writeConfigFile(t, "mount.az", "camera.main")
	l := newTestLauncherWithConfig(t, configPath, runners)
	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.StartAll(context.Background()))

	var flaky *fakeRunner
	for _, r := range runners {
		flaky = r
		break
	}
	flaky.stopErr = fmt.Errorf("boom")

	err := l.StopAll(context.Background(), time.Second)
	assert.Error(t, err)

	flaky.mu.Lock()
	flaky.stopErr = nil
	flaky.mu.Unlock()

	require.NoError(t, l.Shutdown(context.Background(), time.Second))
}
