package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("process already started")
	ErrNoBinary       = errors.New("process binary not configured")
)

const (
	readChunkSize = 4096
	maxStderrLine = 1 << 20
)

// Config 外部进程配置
type Config struct {
	Binary string
	Args   []string
}

// ExitStatus 退出通知
// Signal 非空表示被信号终止
type ExitStatus struct {
	RunID  string `json:"run_id"`
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// Hooks 进程输出回调
// OnStdout 由单个 goroutine 按到达顺序调用；返回错误时进程被强制结束。
// OnStderr 逐行调用（已去除首尾空白，空行跳过）。
// OnExit 在两个输出流都关闭且进程回收后调用一次。
type Hooks struct {
	OnStdout func([]byte) error
	OnStderr func(string)
	OnExit   func(ExitStatus)
}

// Process 外部 dump 进程的生命周期管理
type Process struct {
	cfg    Config
	hooks  Hooks
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	pipes    []io.Closer
	runID    string
	stopping bool
	exited   bool
}

// New 创建进程（未启动）
func New(cfg Config, hooks Hooks, logger *zap.Logger) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{cfg: cfg, hooks: hooks, logger: logger}
}

// Start 启动进程并开始读取输出
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyStarted
	}
	if p.cfg.Binary == "" {
		return ErrNoBinary
	}

	//nolint:gosec // 启动 hcidump 是本工具的用途
	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Binary, err)
	}

	p.cmd = cmd
	p.pipes = []io.Closer{stdout, stderr}
	p.runID = uuid.NewString()
	p.logger.Info("process started",
		zap.String("bin", p.cfg.Binary),
		zap.Strings("args", p.cfg.Args),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("run_id", p.runID))

	var wg sync.WaitGroup
	wg.Add(2)
	go p.readStdout(stdout, &wg)
	go p.readStderr(stderr, &wg)
	go p.wait(cmd, p.runID, &wg)
	return nil
}

func (p *Process) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && p.hooks.OnStdout != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if herr := p.hooks.OnStdout(chunk); herr != nil {
				p.logger.Error("stdout handler failed, killing process", zap.Error(herr))
				p.Stop(true)
				_, _ = io.Copy(io.Discard, r)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) readStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, readChunkSize), maxStderrLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || p.hooks.OnStderr == nil {
			continue
		}
		p.hooks.OnStderr(line)
	}
	// 超长行之后不再按行分发，但须继续读空管道，否则子进程阻塞在写入上
	if err := sc.Err(); err != nil {
		p.logger.Warn("stderr scan stopped, discarding rest", zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *Process) wait(cmd *exec.Cmd, runID string, wg *sync.WaitGroup) {
	wg.Wait()
	err := cmd.Wait()

	st := ExitStatus{RunID: runID, Code: -1}
	if cmd.ProcessState != nil {
		st.Code = cmd.ProcessState.ExitCode()
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signal = ws.Signal().String()
		}
	}

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	p.logger.Info("process exited",
		zap.String("run_id", runID),
		zap.Int("code", st.Code),
		zap.String("signal", st.Signal),
		zap.NamedError("wait_error", err))

	if p.hooks.OnExit != nil {
		p.hooks.OnExit(st)
	}
}

// Stop 首次调用关闭管道并发送 SIGTERM；
// 已在停止中再次调用，或 kill 为真时，立即 SIGKILL
func (p *Process) Stop(kill bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.exited {
		return
	}
	escalate := p.stopping || kill
	if !p.stopping {
		for _, c := range p.pipes {
			_ = c.Close()
		}
	}
	p.stopping = true

	if escalate {
		p.logger.Warn("killing process", zap.String("run_id", p.runID))
		_ = p.cmd.Process.Kill()
		return
	}
	p.logger.Info("terminating process", zap.String("run_id", p.runID))
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
}

// Running 已启动且尚未退出
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil && !p.exited
}

// Stopping 已请求停止但尚未退出
func (p *Process) Stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping && !p.exited
}

// RunID 当前运行实例标识
func (p *Process) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}
