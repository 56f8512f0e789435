package health

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSState *nats.Conn 满足
type NATSState interface {
	Status() nats.Status
	ConnectedUrl() string
}

// NATSChecker NATS 连接检查器；重连期间为降级
type NATSChecker struct {
	conn NATSState
}

func NewNATSChecker(conn NATSState) *NATSChecker {
	return &NATSChecker{conn: conn}
}

func (c *NATSChecker) Name() string { return "nats" }

func (c *NATSChecker) Check(context.Context) CheckResult {
	start := time.Now()
	st := c.conn.Status()

	status := StatusDegraded
	if st == nats.CONNECTED {
		status = StatusHealthy
	}
	return CheckResult{
		Status:  status,
		Message: st.String(),
		Details: map[string]any{"url": c.conn.ConnectedUrl()},
		Latency: time.Since(start),
	}
}
