package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/hcidump"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
)

const publishTimeout = 2 * time.Second

// Sink 包记录的发布目标
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec Record) error
}

// Fanout 把记录投递到全部目标
// 单个目标失败只记录日志与指标，不影响其他目标，也不向 dump 监听器返回错误。
// 监听器在 hcidump 标准输出的读取 goroutine 中运行，网络目标须经 Queue 包装。
type Fanout struct {
	sinks   []Sink
	names   *hci.Names
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	now     func() time.Time

	// 由调用方提供当前运行实例信息
	RunID   func() string
	Adapter string

	// LogPackets 为真时每个包写一条 debug 日志
	LogPackets bool
}

// NewFanout 创建扇出目标
func NewFanout(logger *zap.Logger, m *metrics.AppMetrics, names *hci.Names, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		sinks:   sinks,
		names:   names,
		logger:  logger.With(zap.String("component", "sink")),
		metrics: m,
		now:     time.Now,
	}
}

// Add 追加目标；须在开始投递前调用
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

// Sinks 已配置的目标名称
func (f *Fanout) Sinks() []string {
	out := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		out[i] = s.Name()
	}
	return out
}

// Publish 投递到所有目标
func (f *Fanout) Publish(ctx context.Context, rec Record) error {
	if rec.RunID == "" && f.RunID != nil {
		rec.RunID = f.RunID()
	}
	if rec.Adapter == "" {
		rec.Adapter = f.Adapter
	}
	if f.LogPackets {
		f.logger.Debug("packet",
			zap.String("direction", rec.Direction),
			zap.String("identity", rec.Identity),
			zap.String("name", rec.Name),
			zap.String("params", rec.Params))
	}
	for _, s := range f.sinks {
		err := s.Publish(ctx, rec)
		if _, queued := s.(*Queue); queued {
			// 结果由队列 worker 记录
			continue
		}
		f.metrics.Published(s.Name(), err)
		if err != nil {
			f.logger.Warn("publish failed",
				zap.String("sink", s.Name()),
				zap.String("identity", rec.Identity),
				zap.Error(err))
		}
	}
	return nil
}

// OnCommand 作为通配命令监听器使用
func (f *Fanout) OnCommand(c hcidump.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return f.Publish(ctx, CommandRecord(c, f.names, f.now()))
}

// OnEvent 作为通配事件监听器使用
func (f *Fanout) OnEvent(e hcidump.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return f.Publish(ctx, EventRecord(e, f.names, f.now()))
}
