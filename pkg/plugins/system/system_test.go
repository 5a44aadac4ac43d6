package system

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"opsbot/pkg/engine"
	"opsbot/pkg/gitrepo"
)

var fixedNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeSource struct {
	calls    *callLog
	branches map[string]bool
	pullErr  error
}

func (f *fakeSource) CurrentBranch(context.Context) (string, error) {
	f.calls.add("git.branch")
	return "main", nil
}

func (f *fakeSource) HeadCommit(context.Context) (gitrepo.Commit, error) {
	f.calls.add("git.head")
	return gitrepo.Commit{Hash: "3f2a9c1", Message: "Fix the reconnect loop"}, nil
}

func (f *fakeSource) Pull(context.Context) error {
	f.calls.add("git.pull")
	return f.pullErr
}

func (f *fakeSource) Checkout(_ context.Context, branch string) error {
	f.calls.add("git.checkout " + branch)
	if !f.branches[branch] {
		return gitrepo.ErrBranchNotFound
	}
	return nil
}

type fakeMigrator struct {
	calls  *callLog
	report string
	err    error
}

func (f *fakeMigrator) ApplyPending(context.Context) (string, error) {
	f.calls.add("migrate")
	return f.report, f.err
}

type fakeMetrics struct {
	calls *callLog
}

func (f *fakeMetrics) ResidentMemoryBytes(context.Context) (uint64, error) {
	f.calls.add("metrics.memory")
	return 50 * 1024 * 1024, nil
}

func (f *fakeMetrics) StartTime(context.Context) (time.Time, error) {
	return fixedNow.Add(-3 * time.Hour), nil
}

func (f *fakeMetrics) OSDescription(context.Context) (string, string, error) {
	return "Linux", "6.1.0-13-amd64", nil
}

type recorder struct {
	mu      sync.Mutex
	replies []string
	typing  int
}

func (r *recorder) SendReply(_ context.Context, _ engine.Destination, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

func (r *recorder) SendTyping(context.Context, engine.Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing++
	return nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

type fixture struct {
	source   *fakeSource
	migrator *fakeMigrator
	calls    *callLog

	transport  *recorder
	dispatcher *engine.Dispatcher
	results    chan engine.Result
	runErr     chan error
	cancel     context.CancelFunc
	once       sync.Once
	stopErr    error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	calls := &callLog{}
	f := &fixture{
		calls:    calls,
		source:   &fakeSource{calls: calls, branches: map[string]bool{"main": true, "staging": true}},
		migrator: &fakeMigrator{calls: calls, report: "2 migrations applied"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	plugin, err := New(Deps{
		Source:   f.source,
		Migrator: f.migrator,
		Metrics:  &fakeMetrics{calls: calls},
		Log:      log,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	registry := engine.NewRegistry()
	require.NoError(t, registry.Install(plugin))

	gate := engine.NewGate(engine.PermissionResolverFunc(func(_ context.Context, senderID string) (engine.Permission, error) {
		if senderID == "admin" {
			return engine.PermissionAdmin, nil
		}
		return engine.PermissionNormal, nil
	}), log)

	f.transport = &recorder{}
	f.results = make(chan engine.Result, 16)
	scheduler := engine.NewScheduler(registry, gate, f.transport, log, engine.WithFinishHook(func(r engine.Result) {
		f.results <- r
	}))
	f.dispatcher = engine.NewDispatcher(registry, gate, scheduler, log)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.runErr = make(chan error, 1)
	go func() {
		f.runErr <- scheduler.Run(ctx)
	}()

	t.Cleanup(func() {
		f.cancel()
		f.wait(t)
	})

	return f
}

func (f *fixture) send(t *testing.T, sender string, text string) engine.Outcome {
	t.Helper()

	outcome, err := f.dispatcher.Dispatch(context.Background(), engine.Message{
		SenderID:   sender,
		SenderName: sender,
		Channel:    "test",
		ChatID:     "ops",
		Text:       text,
	})
	require.NoError(t, err)
	return outcome
}

func (f *fixture) result(t *testing.T) engine.Result {
	t.Helper()

	select {
	case r := <-f.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the command to finish")
		return engine.Result{}
	}
}

func (f *fixture) wait(t *testing.T) error {
	t.Helper()

	f.once.Do(func() {
		select {
		case f.stopErr = <-f.runErr:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the scheduler to stop")
		}
	})
	return f.stopErr
}

const expectedSysinfo = "Uptime: `3 hours`\n" +
	"Memory usage: `50 MiB`\n" +
	"OS: `Linux, 6.1.0-13-amd64`\n" +
	"Current branch: `main`, `3f2a9c1`, \n" +
	"`Fix the reconnect loop`\n"

func TestUpdateSelfRunsStepsInOrderThenTerminates(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, engine.OutcomeScheduled, f.send(t, "admin", "!update self"))

	term, ok := engine.IsTermination(f.wait(t))
	require.True(t, ok, "expected the scheduler to stop with a termination")
	require.Equal(t, "system.update_self", term.Command)

	want := []string{"Pulled the latest commits", "2 migrations applied", expectedSysinfo}
	if diff := cmp.Diff(want, f.transport.list()); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []string{"git.pull", "migrate", "metrics.memory", "git.branch", "git.head"}
	if diff := cmp.Diff(wantCalls, f.calls.list()); diff != "" {
		t.Fatalf("collaborator calls mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateSelfStopsWhenPullFails(t *testing.T) {
	f := newFixture(t)
	f.source.pullErr = errors.New("could not resolve host")

	f.send(t, "admin", "!update self")
	result := f.result(t)

	var collab *engine.CollaboratorError
	require.ErrorAs(t, result.Err, &collab)
	require.Equal(t, "pull", collab.Op)
	require.Equal(t, []string{engine.FailureReply}, f.transport.list())
	require.Equal(t, []string{"git.pull"}, f.calls.list())
}

func TestAdminCommandsAreDeniedForMembers(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"!restart", "!git pull", "!git checkout main", "!migrate", "!update self"} {
		require.Equal(t, engine.OutcomeDenied, f.send(t, "member", text), text)
		require.NoError(t, f.result(t).Err)
	}

	require.Len(t, f.transport.list(), 5)
	for _, reply := range f.transport.list() {
		require.Equal(t, engine.DeniedReply, reply)
	}
	require.Empty(t, f.calls.list())
}

func TestRestartTerminates(t *testing.T) {
	f := newFixture(t)

	f.send(t, "admin", "!restart")

	term, ok := engine.IsTermination(f.wait(t))
	require.True(t, ok)
	require.Equal(t, "restart requested by admin", term.Reason)
	require.Equal(t, []string{"Restarting..."}, f.transport.list())
	require.Equal(t, 1, f.transport.typing)
}

func TestSysinfoIsOpen(t *testing.T) {
	f := newFixture(t)

	f.send(t, "member", "!sysinfo")
	require.NoError(t, f.result(t).Err)

	require.Equal(t, []string{expectedSysinfo}, f.transport.list())
}

func TestGitCheckout(t *testing.T) {
	f := newFixture(t)

	f.send(t, "admin", "!git checkout staging")
	require.NoError(t, f.result(t).Err)
	f.send(t, "admin", "!git checkout feature/nope")
	require.NoError(t, f.result(t).Err)

	require.Equal(t, []string{"Checked out `staging`", "Branch `feature/nope` does not exist"}, f.transport.list())
}

func TestMigrateFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.migrator.err = errors.New("database is locked")

	f.send(t, "admin", "!migrate")
	result := f.result(t)

	require.ErrorContains(t, result.Err, "database is locked")
	require.Equal(t, []string{engine.FailureReply}, f.transport.list())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
