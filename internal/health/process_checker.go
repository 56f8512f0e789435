package health

import (
	"context"
	"time"

	"github.com/taoyao-code/hcidump-monitor/internal/process"
)

// ProcessState hcidump 进程状态，hcidump.Dump 满足
type ProcessState interface {
	Running() bool
	RunID() string
	LastExit() (process.ExitStatus, bool)
}

// ProcessChecker hcidump 进程检查器
type ProcessChecker struct {
	state ProcessState
}

func NewProcessChecker(state ProcessState) *ProcessChecker {
	return &ProcessChecker{state: state}
}

func (c *ProcessChecker) Name() string { return "hcidump" }

// Check 运行中为健康；尚未启动为降级；已退出为不健康
func (c *ProcessChecker) Check(context.Context) CheckResult {
	start := time.Now()

	if c.state.Running() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "running",
			Details: map[string]any{"run_id": c.state.RunID()},
			Latency: time.Since(start),
		}
	}

	last, ok := c.state.LastExit()
	if !ok {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "not started",
			Latency: time.Since(start),
		}
	}
	return CheckResult{
		Status:  StatusUnhealthy,
		Message: "exited",
		Details: map[string]any{
			"run_id": last.RunID,
			"code":   last.Code,
			"signal": last.Signal,
		},
		Latency: time.Since(start),
	}
}
