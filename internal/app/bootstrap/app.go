package bootstrap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/hcidump-monitor/internal/config"
	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/hcidump"
	"github.com/taoyao-code/hcidump-monitor/internal/health"
	"github.com/taoyao-code/hcidump-monitor/internal/httpserver"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
	"github.com/taoyao-code/hcidump-monitor/internal/process"
	"github.com/taoyao-code/hcidump-monitor/internal/sink"
	redisstorage "github.com/taoyao-code/hcidump-monitor/internal/storage/redis"
)

// Run 统一启动流程，阻塞到收到信号、hcidump 退出或 HTTP 服务失败
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting hcidump monitor", zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ========== 阶段1: 基础组件 ==========
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	names, err := loadNames(cfg.Names.Path)
	if err != nil {
		return err
	}

	// ========== 阶段2: 解析控制器 ==========
	hciClient := hci.NewClient(hci.ExecRunner{Logger: log}, log)
	adapter, err := resolveAdapter(ctx, hciClient, cfg.HCIDump.Adapter, log)
	if err != nil {
		return err
	}
	log.Info("adapter resolved", zap.String("hci", adapter.HCI), zap.String("mac", adapter.MAC))

	// ========== 阶段3: 发布目标 ==========
	// Hub 本身不阻塞；网络目标经 Queue 异步发布，停止 hcidump 后再排空
	hub := sink.NewHub()
	defer hub.Close()
	fan := sink.NewFanout(log, appm, names, hub)
	agg := health.NewAggregator()

	var queues []*sink.Queue
	queued := func(s sink.Sink, size int) sink.Sink {
		q := sink.NewQueue(s, size, log, appm)
		q.Start(context.Background())
		queues = append(queues, q)
		return q
	}

	if cfg.Redis.Enabled {
		rc, err := redisstorage.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		fan.Add(queued(sink.NewRedisPublisher(rc, cfg.Redis.Channel), cfg.Redis.QueueSize))
		agg.AddChecker(health.NewRedisChecker(rc))
		log.Info("redis sink ready", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}
	if cfg.NATS.Enabled {
		nc, err := sink.ConnectNATS(cfg.NATS.URL, cfg.App.Name)
		if err != nil {
			return err
		}
		defer nc.Close()
		fan.Add(queued(sink.NewNATSPublisher(nc, cfg.NATS.Subject), cfg.NATS.QueueSize))
		agg.AddChecker(health.NewNATSChecker(nc))
		log.Info("nats sink ready", zap.String("url", nc.ConnectedUrl()), zap.String("subject", cfg.NATS.Subject))
	}

	// ========== 阶段4: dump 引擎 ==========
	opts := []hcidump.Option{
		hcidump.WithLogger(log),
		hcidump.WithMetrics(appm),
		hcidump.WithAutostart(cfg.HCIDump.Autostart),
		hcidump.WithBinary(cfg.HCIDump.Binary),
		hcidump.WithExtraArgs(cfg.HCIDump.ExtraArgs...),
	}
	if cfg.HCIDump.DesyncPolicy == cfgpkg.DesyncReport {
		opts = append(opts, hcidump.WithDesyncHandler(reportDesync(log)))
	}
	dump := hcidump.New(adapter, opts...)

	fan.RunID = dump.RunID
	fan.Adapter = adapter.HCI
	fan.LogPackets = cfg.HCIDump.LogPackets

	exited := make(chan process.ExitStatus, 1)
	dump.OnExit(func(st process.ExitStatus) {
		select {
		case exited <- st:
		default:
		}
	})
	agg.AddChecker(health.NewProcessChecker(dump))

	// ========== 阶段5: HTTP服务（非阻塞）==========
	metricsHandler := metrics.Handler(reg)
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, httpserver.Deps{
		Health:         agg,
		MetricsPath:    cfg.Metrics.Path,
		MetricsHandler: metricsHandler,
		Metrics:        appm,
		Status:         dump,
		Control:        hciClient,
		Hub:            hub,
		Sinks:          fan.Sinks(),
	}, log)
	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.Start() }()

	// ========== 阶段6: 订阅并启动 hcidump ==========
	dump.OnCommand(fan.OnCommand, nil)
	dump.OnEvent(fan.OnEvent, nil)
	if !cfg.HCIDump.Autostart {
		if err := dump.Start(); err != nil {
			return shutdown(cfg, log, dump, exited, httpSrv, queues, err)
		}
	} else if !dump.Running() {
		if _, ok := dump.LastExit(); !ok {
			return shutdown(cfg, log, dump, exited, httpSrv, queues, errors.New("hcidump failed to start"))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case st := <-exited:
		runErr = fmt.Errorf("hcidump exited: code=%d signal=%q", st.Code, st.Signal)
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	return shutdown(cfg, log, dump, exited, httpSrv, queues, runErr)
}

// shutdown 先优雅停止 hcidump，超时后强制结束；再排空发布队列，最后关闭 HTTP
func shutdown(cfg *cfgpkg.Config, log *zap.Logger, dump *hcidump.Dump, exited <-chan process.ExitStatus,
	httpSrv *httpserver.Server, queues []*sink.Queue, runErr error) error {
	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if dump.Running() {
		dump.Stop(false)
		select {
		case <-exited:
		case <-time.After(timeout):
			log.Warn("hcidump did not exit in time, killing", zap.Duration("timeout", timeout))
			dump.Stop(true)
			select {
			case <-exited:
			case <-time.After(time.Second):
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, q := range queues {
		q.Close(ctx)
	}
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("hcidump monitor stopped")
	return runErr
}

func loadNames(path string) (*hci.Names, error) {
	if path == "" {
		return hci.DefaultNames(), nil
	}
	return hci.LoadNames(path)
}

// resolveAdapter hciconfig 不可用时，接口名形式的配置仍可直接使用
func resolveAdapter(ctx context.Context, c *hci.Client, name string, log *zap.Logger) (hci.Adapter, error) {
	a, err := c.FindAdapter(ctx, name, nil)
	if err == nil {
		return a, nil
	}
	if strings.HasPrefix(strings.ToLower(name), "hci") && !errors.Is(err, hci.ErrNoAdapter) {
		log.Warn("adapter lookup failed, using interface name as given", zap.String("adapter", name), zap.Error(err))
		return hci.NewAdapter(name, ""), nil
	}
	return hci.Adapter{}, fmt.Errorf("resolve adapter %s: %w", name, err)
}

func reportDesync(log *zap.Logger) func(hcidump.Partial) {
	return func(p hcidump.Partial) {
		log.Info("partial packet abandoned",
			zap.String("direction", p.Direction.String()),
			zap.String("raw", hex.EncodeToString(p.Raw)),
			zap.Int("missing", p.Missing))
	}
}
