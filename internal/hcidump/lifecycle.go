package hcidump

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/hcidump-monitor/internal/process"
)

// Process 外部 dump 进程
type Process interface {
	Start() error
	Stop(kill bool)
}

// ProcessFactory 创建外部进程；hooks 由引擎提供
type ProcessFactory func(cfg process.Config, hooks process.Hooks) Process

func defaultProcessFactory(logger *zap.Logger) ProcessFactory {
	return func(cfg process.Config, hooks process.Hooks) Process {
		return process.New(cfg, hooks, logger.With(zap.String("component", "process")))
	}
}

// ProcessConfig hcidump -R -i <hci> [extra...]
func (d *Dump) ProcessConfig() process.Config {
	args := append([]string{"-R", "-i", d.adapter.HCI}, d.extraArgs...)
	return process.Config{Binary: d.binary, Args: args}
}

// SetAutostart 开关自动启停
func (d *Dump) SetAutostart(on bool) {
	d.mu.Lock()
	d.autostart = on
	d.mu.Unlock()
}

// Start 启动 hcidump；已在运行（包括停止中）时为空操作
func (d *Dump) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked()
}

func (d *Dump) startLocked() error {
	if d.proc != nil {
		return nil
	}

	var p Process
	p = d.newProcess(d.ProcessConfig(), process.Hooks{
		OnStdout: d.Feed,
		OnStderr: d.handleStderr,
		OnExit:   func(st process.ExitStatus) { d.handleExit(p, st) },
	})
	if err := p.Start(); err != nil {
		d.logger.Error("start hcidump failed", zap.Error(err))
		return err
	}
	d.proc = p
	d.metrics.ProcessStarted()
	d.logger.Info("hcidump started")
	return nil
}

// Stop 第一次为优雅停止（SIGTERM）；停止中再次调用或 kill 为真时强制结束。
// 已缓冲的数据不受影响。
func (d *Dump) Stop(kill bool) {
	d.mu.RLock()
	p := d.proc
	d.mu.RUnlock()
	if p == nil {
		return
	}
	p.Stop(kill)
}

// Running 进程已启动且尚未退出
func (d *Dump) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.proc != nil
}

// RunID 当前运行实例标识；未运行或进程实现不提供时为空
func (d *Dump) RunID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.proc.(interface{ RunID() string }); ok {
		return r.RunID()
	}
	return ""
}

// LastExit 最近一次退出状态
func (d *Dump) LastExit() (process.ExitStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastExitStatus == nil {
		return process.ExitStatus{}, false
	}
	return *d.lastExitStatus, true
}

// OnExit 订阅进程退出通知
func (d *Dump) OnExit(fn func(process.ExitStatus)) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.exitNotify[d.nextID] = fn
	return d.nextID
}

// OnStderr 订阅 hcidump 标准错误输出（逐行）
func (d *Dump) OnStderr(fn func(string)) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.stderrNotify[d.nextID] = fn
	return d.nextID
}

// RemoveNotify 取消生命周期通知订阅
func (d *Dump) RemoveNotify(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.exitNotify, id)
	delete(d.stderrNotify, id)
}

func (d *Dump) autoStart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.autostart {
		return
	}
	_ = d.startLocked()
}

func (d *Dump) autoStop() {
	d.mu.Lock()
	p := d.proc
	stop := p != nil && d.autostart && !d.hasListenersLocked()
	if stop {
		d.autoStopping = true
	}
	d.mu.Unlock()
	if stop {
		p.Stop(false)
	}
}

func (d *Dump) handleStderr(line string) {
	d.metrics.StderrLine()
	d.logger.Error("HCIDump: "+line, zap.String("stream", "stderr"))

	d.mu.RLock()
	fns := collectNotify(d.stderrNotify)
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(line)
	}
}

func (d *Dump) handleExit(p Process, st process.ExitStatus) {
	d.mu.Lock()
	restart := false
	if d.proc == p {
		d.proc = nil
		restart = d.autoStopping && d.autostart && d.hasListenersLocked()
		d.autoStopping = false
	}
	d.lastExitStatus = &st
	fns := collectNotify(d.exitNotify)
	d.mu.Unlock()

	d.metrics.ProcessExited(st.Signal != "")
	d.logger.Info("hcidump exited",
		zap.String("run_id", st.RunID),
		zap.Int("code", st.Code),
		zap.String("signal", st.Signal))
	for _, fn := range fns {
		fn(st)
	}

	// 停止过程中又有订阅
	if restart {
		d.autoStart()
	}
}

func collectNotify[F any](m map[int]F) []F {
	return collectListeners(map[int]map[int]F{0: m}, 0, 0)
}
