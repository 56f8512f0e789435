package httpserver

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	cfgpkg "github.com/taoyao-code/hcidump-monitor/internal/config"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
	"github.com/taoyao-code/hcidump-monitor/internal/sink"
)

const maxClientMessage = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 监控面板通常与本服务不同源
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage 推送给客户端的消息
type wsMessage struct {
	Type     string       `json:"type"` // connected | packet
	ClientID string       `json:"client_id,omitempty"`
	Data     *sink.Record `json:"data,omitempty"`
}

// packetFilter 按方向/标识过滤；空值表示不过滤
type packetFilter struct {
	direction string
	identity  string
}

func (f packetFilter) match(rec sink.Record) bool {
	if f.direction != "" && f.direction != rec.Direction {
		return false
	}
	return f.identity == "" || f.identity == rec.Identity
}

type wsHandler struct {
	hub     *sink.Hub
	cfg     cfgpkg.WSConfig
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	clients atomic.Int64
}

func newWSHandler(hub *sink.Hub, cfg cfgpkg.WSConfig, logger *zap.Logger, m *metrics.AppMetrics) *wsHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = float64(rate.Inf)
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	return &wsHandler{hub: hub, cfg: cfg, logger: logger.With(zap.String("component", "ws")), metrics: m}
}

func (h *wsHandler) Clients() int { return int(h.clients.Load()) }

// serve GET /ws?direction=command|event&identity=030C
func (h *wsHandler) serve(c *gin.Context) {
	filter := packetFilter{
		direction: c.Query("direction"),
		identity:  strings.ToUpper(c.Query("identity")),
	}
	switch filter.direction {
	case "", "command", "event":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be command or event"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	log := h.logger.With(zap.String("client_id", clientID))

	sub, cancel := h.hub.Subscribe(h.cfg.QueueSize)
	h.metrics.SetWSClients(int(h.clients.Add(1)))
	log.Info("websocket client connected", zap.String("direction", filter.direction), zap.String("identity", filter.identity))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, sub, filter, clientID, log)
	}()
	h.readPump(conn)
	cancel()
	<-done

	h.metrics.SetWSClients(int(h.clients.Add(-1)))
	log.Info("websocket client disconnected",
		zap.Uint64("dropped_slow", sub.Dropped()))
}

// readPump 只处理 pong 与关闭；客户端其他消息忽略
func (h *wsHandler) readPump(conn *websocket.Conn) {
	defer conn.Close()
	pongWait := 2 * h.cfg.PingInterval

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *wsHandler) writePump(conn *websocket.Conn, sub *sink.Subscription, filter packetFilter, clientID string, log *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	limiter := rate.NewLimiter(rate.Limit(h.cfg.SendRate), h.cfg.SendBurst)
	var limited uint64
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		if limited > 0 {
			log.Warn("websocket records rate limited", zap.Uint64("count", limited))
		}
	}()

	if err := h.write(conn, wsMessage{Type: "connected", ClientID: clientID}); err != nil {
		return
	}

	for {
		select {
		case rec, ok := <-sub.C:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !filter.match(rec) {
				continue
			}
			if !limiter.Allow() {
				limited++
				continue
			}
			if err := h.write(conn, wsMessage{Type: "packet", Data: &rec}); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *wsHandler) write(conn *websocket.Conn, msg wsMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return conn.WriteJSON(msg)
}
