package ipc

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltnpepper97/verdant/internal/supervisor"
)

type fakeHandler struct {
	mu    sync.Mutex
	snaps []supervisor.Snapshot

	started []string
	stopped []string
	err     error
}

func (f *fakeHandler) Start(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return f.err
}

func (f *fakeHandler) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return f.err
}

func (f *fakeHandler) Snapshot() []supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supervisor.Snapshot(nil), f.snaps...)
}

type fakeShutdownManager struct {
	mu     sync.Mutex
	called int
}

func (f *fakeShutdownManager) Shutdown(time.Duration) {
	f.mu.Lock()
	f.called++
	f.mu.Unlock()
}

func (f *fakeShutdownManager) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

func startTestServer(t *testing.T, h Handler, m ShutdownManager) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	srv := NewServer(sock, "", h, m, nil)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, sock
}

func TestServer_IncorrectTarget(t *testing.T) {
	_, sock := startTestServer(t, &fakeHandler{}, &fakeShutdownManager{})
	client := NewClient(sock)
	resp, err := client.Send(Request{Target: TargetInit, Command: GetStatus()}, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Incorrect target", resp.Message)
}

func TestServer_GetStatusReturnsSnapshots(t *testing.T) {
	h := &fakeHandler{snaps: []supervisor.Snapshot{{Name: "sshd", State: 2, Pid: 123, Restarts: 0}}}
	_, sock := startTestServer(t, h, &fakeShutdownManager{})
	client := NewClient(sock)
	resp, err := client.Send(Request{Target: TargetVerdantd, Command: GetStatus()}, time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)

	var statuses []ServiceStatus
	require.NoError(t, json.Unmarshal(resp.Data, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "sshd", statuses[0].Name)
	assert.Equal(t, 123, statuses[0].Pid)
}

func TestServer_StartServiceDelegatesToHandler(t *testing.T) {
	h := &fakeHandler{}
	_, sock := startTestServer(t, h, &fakeShutdownManager{})
	client := NewClient(sock)
	resp, err := client.Send(Request{Target: TargetVerdantd, Command: StartService("sshd")}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"sshd"}, h.started)
}

func TestServer_UnsupportedCommand(t *testing.T) {
	_, sock := startTestServer(t, &fakeHandler{}, &fakeShutdownManager{})
	client := NewClient(sock)
	resp, err := client.Send(Request{Target: TargetVerdantd, Command: Command{}}, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

// TestServer_ShutdownRespondsBeforeManagerShutdownCompletes covers
// scenario S4: the response must arrive promptly even though the
// manager's Shutdown (and the OnExit callback) run in a detached
// goroutine afterward.
func TestServer_ShutdownRespondsBeforeManagerShutdownCompletes(t *testing.T) {
	mgr := &fakeShutdownManager{}
	srv, sock := startTestServer(t, &fakeHandler{}, mgr)

	exited := make(chan struct{})
	srv.OnExit = func() { close(exited) }

	client := NewClient(sock)
	start := time.Now()
	resp, err := client.Send(Request{Target: TargetVerdantd, Command: Shutdown()}, time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Shutdown initiated", resp.Message)
	assert.Less(t, elapsed, 100*time.Millisecond)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("OnExit was never called")
	}
	assert.Equal(t, 1, mgr.callCount())
}
