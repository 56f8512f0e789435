package process

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recorder 收集回调
type recorder struct {
	mu     sync.Mutex
	stdout []byte
	stderr []string
	exit   chan ExitStatus
}

func newRecorder() *recorder { return &recorder{exit: make(chan ExitStatus, 1)} }

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStdout: func(b []byte) error {
			r.mu.Lock()
			r.stdout = append(r.stdout, b...)
			r.mu.Unlock()
			return nil
		},
		OnStderr: func(line string) {
			r.mu.Lock()
			r.stderr = append(r.stderr, line)
			r.mu.Unlock()
		},
		OnExit: func(st ExitStatus) { r.exit <- st },
	}
}

func (r *recorder) waitExit(t *testing.T) ExitStatus {
	t.Helper()
	select {
	case st := <-r.exit:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("进程未退出")
		return ExitStatus{}
	}
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("需要 sh")
	}
	return sh
}

func TestProcess_StdoutAndExit(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	p := New(Config{Binary: sh, Args: []string{"-c", "printf '<01030C00'"}}, rec.hooks(), zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	st := rec.waitExit(t)

	assert.Equal(t, 0, st.Code)
	assert.Empty(t, st.Signal)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, p.RunID(), st.RunID)
	rec.mu.Lock()
	assert.Equal(t, "<01030C00", string(rec.stdout))
	rec.mu.Unlock()
	assert.False(t, p.Running())
}

func TestProcess_StderrLines(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	p := New(Config{Binary: sh, Args: []string{"-c", "echo '  oops  ' >&2; echo >&2; echo second >&2; exit 3"}}, rec.hooks(), zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	st := rec.waitExit(t)

	assert.Equal(t, 3, st.Code)
	rec.mu.Lock()
	assert.Equal(t, []string{"oops", "second"}, rec.stderr)
	rec.mu.Unlock()
}

func TestProcess_StderrLongLine(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	script := "head -c 102400 /dev/zero | tr '\\0' a >&2; echo >&2; echo after >&2; exit 2"
	p := New(Config{Binary: sh, Args: []string{"-c", script}}, rec.hooks(), zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	st := rec.waitExit(t)

	assert.Equal(t, 2, st.Code)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.stderr, 2)
	assert.Len(t, rec.stderr[0], 102400)
	assert.Equal(t, "after", rec.stderr[1])
}

// 超过上限的行之后仍须读完 stderr，进程才能正常退出
func TestProcess_StderrOversizedLineDrained(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	script := "head -c 2097152 /dev/zero | tr '\\0' a >&2; echo >&2; head -c 262144 /dev/zero >&2; exit 4"
	p := New(Config{Binary: sh, Args: []string{"-c", script}}, rec.hooks(), zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	st := rec.waitExit(t)

	assert.Equal(t, 4, st.Code)
	rec.mu.Lock()
	assert.Empty(t, rec.stderr)
	rec.mu.Unlock()
}

func TestProcess_StopGraceful(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	p := New(Config{Binary: sh, Args: []string{"-c", "exec sleep 30"}}, rec.hooks(), zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	assert.True(t, p.Running())

	p.Stop(false)
	st := rec.waitExit(t)
	assert.NotEmpty(t, st.Signal)
	assert.False(t, p.Stopping())

	// 已退出后再停止为空操作
	assert.NotPanics(t, func() { p.Stop(true) })
}

func TestProcess_StopEscalates(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	ready := make(chan struct{}, 1)
	hooks := rec.hooks()
	hooks.OnStdout = func([]byte) error {
		select {
		case ready <- struct{}{}:
		default:
		}
		return nil
	}
	// 忽略 SIGTERM，只有 SIGKILL 能结束
	p := New(Config{Binary: sh, Args: []string{"-c", "trap '' TERM; echo ready; while :; do sleep 1; done"}}, hooks, zaptest.NewLogger(t))

	require.NoError(t, p.Start())
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("脚本未就绪")
	}
	p.Stop(false)
	p.Stop(false)

	st := rec.waitExit(t)
	assert.Equal(t, "killed", st.Signal)
}

func TestProcess_StdoutErrorKills(t *testing.T) {
	sh := requireShell(t)
	exit := make(chan ExitStatus, 1)
	hooks := Hooks{
		OnStdout: func([]byte) error { return errors.New("listener failed") },
		OnExit:   func(st ExitStatus) { exit <- st },
	}
	p := New(Config{Binary: sh, Args: []string{"-c", "echo data; exec sleep 30"}}, hooks, zaptest.NewLogger(t))
	require.NoError(t, p.Start())

	select {
	case st := <-exit:
		assert.Equal(t, "killed", st.Signal)
	case <-time.After(5 * time.Second):
		t.Fatal("进程未被结束")
	}
}

func TestProcess_StartErrors(t *testing.T) {
	p := New(Config{}, Hooks{}, nil)
	assert.ErrorIs(t, p.Start(), ErrNoBinary)

	p = New(Config{Binary: "/nonexistent/hcidump"}, Hooks{}, nil)
	assert.Error(t, p.Start())
	assert.False(t, p.Running())
}

func TestProcess_DoubleStart(t *testing.T) {
	sh := requireShell(t)
	rec := newRecorder()
	p := New(Config{Binary: sh, Args: []string{"-c", "exec sleep 30"}}, rec.hooks(), zaptest.NewLogger(t))
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrAlreadyStarted)
	p.Stop(true)
	rec.waitExit(t)
}
