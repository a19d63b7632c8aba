package supervisor

import (
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoworkerPath builds testdata/echoworker once per test binary run and
// returns the path to the compiled helper, the way One-com/gone/sd's
// activation_test.go shells out to build a companion test binary rather than
// faking fd inheritance in-process. Tests skip, rather than fail, when the
// toolchain cannot produce the binary (e.g. no network for module resolution
// in a sandboxed runner).
var (
	echoworkerOnce sync.Once
	echoworkerBin  string
	echoworkerErr  error
)

func buildEchoWorker(t *testing.T) string {
	t.Helper()
	echoworkerOnce.Do(func() {
		dir := t.TempDir()
		bin := filepath.Join(dir, "echoworker")
		cmd := exec.Command("go", "build", "-o", bin, "./testdata/echoworker")
		cmd.Dir = repoRoot(t)
		if out, err := cmd.CombinedOutput(); err != nil {
			echoworkerErr = err
			t.Logf("go build testdata/echoworker: %v\n%s", err, out)
			return
		}
		echoworkerBin = bin
	})
	if echoworkerErr != nil {
		t.Skip("echoworker helper binary did not build, skipping end-to-end scenario")
	}
	return echoworkerBin
}

func repoRoot(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs("../..")
	require.NoError(t, err)
	return abs
}

func newLiveSupervisor(t *testing.T, numWorkers int, opts Options) *Supervisor {
	t.Helper()
	bin := buildEchoWorker(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	opts.NumWorkers = numWorkers
	opts.Spawner = NewExecSpawner(bin)
	opts.Listener = ln.(*net.TCPListener)
	if opts.GraceTimeout <= 0 {
		opts.GraceTimeout = 2 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = t.TempDir()
	}
	opts.Logger = testLogger()

	sup := New(bin, opts)
	require.NoError(t, sup.Start())
	t.Cleanup(func() {
		sup.EnqueueShutdown()
		select {
		case <-sup.closed:
		case <-time.After(5 * time.Second):
		}
	})
	return sup
}

// E1: start a two-worker pool and observe both reach ready. The pid and
// port files are not checked here.
func TestE2E_E1_InitialPoolReachesReady(t *testing.T) {
	sup := newLiveSupervisor(t, 2, Options{})
	waitForCondition(t, func() bool { return allReady(sup) && sup.registry.Size() == 2 })

	status := sup.Status()
	require.Len(t, status.Workers, 2)
	for _, w := range status.Workers {
		assert.Equal(t, "ready", w.State)
	}
}

// E2: a reload replaces every worker one at a time, new-ready-before-old-
// drained, ending with two fresh, higher ids.
func TestE2E_E2_RollingReloadReplacesEveryWorker(t *testing.T) {
	sup := newLiveSupervisor(t, 2, Options{})
	waitForCondition(t, func() bool { return allReady(sup) && sup.registry.Size() == 2 })

	before := sup.registry.Snapshot()
	beforeIDs := map[int]bool{before[0].ID: true, before[1].ID: true}

	done := make(chan error, 1)
	sup.events <- event{kind: evReload, reply: done}
	require.NoError(t, <-done)

	waitForCondition(t, func() bool { return allReady(sup) && sup.registry.Size() == 2 })
	after := sup.registry.Snapshot()
	for _, w := range after {
		assert.False(t, beforeIDs[w.ID], "reload must replace every original worker id")
		assert.Equal(t, "ready", w.State)
	}
}

// E3: killing a worker externally yields a prompt, correctly-numbered
// replacement.
func TestE2E_E3_ExternalKillTriggersCrashRestart(t *testing.T) {
	sup := newLiveSupervisor(t, 2, Options{})
	waitForCondition(t, func() bool { return allReady(sup) && sup.registry.Size() == 2 })

	victim := sup.registry.Snapshot()[0]
	sup.lockProcs()
	proc := sup.procs[victim.ID]
	sup.unlockProcs()
	require.NoError(t, proc.Kill())

	waitForCondition(t, func() bool { return sup.registry.Size() == 2 })
	waitForCondition(t, func() bool { return allReady(sup) })

	snap := sup.registry.Snapshot()
	ids := []int{snap[0].ID, snap[1].ID}
	assert.NotContains(t, ids, victim.ID)
}

// A ready worker answers HTTP on the shared listening socket. echoworker
// always emits the ready token and no ReadyURL is configured, so this does
// not exercise readiness by probe alone (scenario E4).
func TestE2E_ReadyWorkerServesOnSharedSocket(t *testing.T) {
	sup := newLiveSupervisor(t, 1, Options{})
	waitForCondition(t, func() bool { return allReady(sup) })

	snap := sup.registry.Snapshot()
	require.Len(t, snap, 1)

	resp, err := http.Get("http://" + sup.listener.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// E5: a reload superseded by a stop aborts at its next suspension and the
// supervisor still exits cleanly.
func TestE2E_E5_StopSupersedesInFlightReload(t *testing.T) {
	sup := newLiveSupervisor(t, 2, Options{})
	waitForCondition(t, func() bool { return allReady(sup) && sup.registry.Size() == 2 })

	reloadDone := make(chan error, 1)
	sup.events <- event{kind: evReload, reply: reloadDone}
	time.Sleep(50 * time.Millisecond)
	sup.EnqueueShutdown()

	select {
	case err := <-reloadDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload never acknowledged after superseding shutdown")
	}

	require.NoError(t, sup.Wait())
	assert.Equal(t, 0, sup.registry.Size())
}

// E6: scale-down below the minimum is rejected, scale-up grows the pool, and
// a subsequent scale-down retires the oldest worker.
func TestE2E_E6_ScaleDownMinimumThenScaleUpThenDown(t *testing.T) {
	sup := newLiveSupervisor(t, 1, Options{})
	waitForCondition(t, func() bool { return allReady(sup) })

	rejectDone := make(chan error, 1)
	sup.events <- event{kind: evScaleDown, reply: rejectDone}
	assert.ErrorIs(t, <-rejectDone, ErrMinimumWorkers)
	assert.Equal(t, 1, sup.registry.Size())

	upDone := make(chan error, 1)
	sup.events <- event{kind: evScaleUp, reply: upDone}
	require.NoError(t, <-upDone)
	waitForCondition(t, func() bool { return sup.registry.Size() == 2 && allReady(sup) })

	oldest, ok := sup.registry.Oldest()
	require.True(t, ok)

	downDone := make(chan error, 1)
	sup.events <- event{kind: evScaleDown, reply: downDone}
	require.NoError(t, <-downDone)
	waitForCondition(t, func() bool { return sup.registry.Size() == 1 })

	snap := sup.registry.Snapshot()
	assert.NotEqual(t, oldest.ID, snap[0].ID)
}
