package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级（仍在采集，但有组件异常）
	StatusUnhealthy Status = "unhealthy" // 不健康（无法采集）
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc 用函数实现 Checker
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }
