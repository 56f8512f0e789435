package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/process"
)

const controlTimeout = 5 * time.Second

// StatusSource 运行状态，hcidump.Dump 满足
type StatusSource interface {
	Adapter() hci.Adapter
	Running() bool
	RunID() string
	LastExit() (process.ExitStatus, bool)
	Subscriptions() (commands, events int)
}

// AdapterControl 控制器操作，hci.Client 满足
type AdapterControl interface {
	AdapterInfo(ctx context.Context, mac string) (*hci.AdapterInfo, error)
	HCIReset(ctx context.Context, iface string) hci.CommandResult
	Reset(ctx context.Context, iface string) error

	SetAlias(ctx context.Context, mac, alias string) error
	SetDiscoverable(ctx context.Context, mac string, on bool) error
	SetDiscoverableTimeout(ctx context.Context, mac string, seconds int) error
	SetPairable(ctx context.Context, mac string, on bool) error
	SetPairableTimeout(ctx context.Context, mac string, seconds int) error
	SetPowered(ctx context.Context, mac string, on bool) error
}

// adapterPatch PATCH /api/adapter 请求体；缺省字段不修改
type adapterPatch struct {
	Alias               *string `json:"alias"`
	Discoverable        *bool   `json:"discoverable"`
	DiscoverableTimeout *int    `json:"discoverable_timeout"`
	Pairable            *bool   `json:"pairable"`
	PairableTimeout     *int    `json:"pairable_timeout"`
	Powered             *bool   `json:"powered"`
}

type propSetter struct {
	prop string
	set  func(ctx context.Context) error
}

// setters 按固定顺序生成要执行的修改；Powered 最后，便于先配置再上电
func (p adapterPatch) setters(ctl AdapterControl, mac string) ([]propSetter, error) {
	var out []propSetter
	if p.Alias != nil {
		v := *p.Alias
		out = append(out, propSetter{"alias", func(ctx context.Context) error { return ctl.SetAlias(ctx, mac, v) }})
	}
	if p.Discoverable != nil {
		v := *p.Discoverable
		out = append(out, propSetter{"discoverable", func(ctx context.Context) error { return ctl.SetDiscoverable(ctx, mac, v) }})
	}
	if p.DiscoverableTimeout != nil {
		v := *p.DiscoverableTimeout
		if v < 0 {
			return nil, errors.New("discoverable_timeout must be >= 0")
		}
		out = append(out, propSetter{"discoverable_timeout", func(ctx context.Context) error { return ctl.SetDiscoverableTimeout(ctx, mac, v) }})
	}
	if p.Pairable != nil {
		v := *p.Pairable
		out = append(out, propSetter{"pairable", func(ctx context.Context) error { return ctl.SetPairable(ctx, mac, v) }})
	}
	if p.PairableTimeout != nil {
		v := *p.PairableTimeout
		if v < 0 {
			return nil, errors.New("pairable_timeout must be >= 0")
		}
		out = append(out, propSetter{"pairable_timeout", func(ctx context.Context) error { return ctl.SetPairableTimeout(ctx, mac, v) }})
	}
	if p.Powered != nil {
		v := *p.Powered
		out = append(out, propSetter{"powered", func(ctx context.Context) error { return ctl.SetPowered(ctx, mac, v) }})
	}
	if len(out) == 0 {
		return nil, errors.New("no adapter property given")
	}
	return out, nil
}

type statusResponse struct {
	Adapter       hci.Adapter         `json:"adapter"`
	Running       bool                `json:"running"`
	RunID         string              `json:"run_id,omitempty"`
	LastExit      *process.ExitStatus `json:"last_exit,omitempty"`
	Subscriptions struct {
		Commands int `json:"commands"`
		Events   int `json:"events"`
	} `json:"subscriptions"`
	WSClients int      `json:"ws_clients"`
	Sinks     []string `json:"sinks"`
}

func statusHandler(src StatusSource, sinks []string, wsClients func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := statusResponse{
			Adapter:   src.Adapter(),
			Running:   src.Running(),
			RunID:     src.RunID(),
			WSClients: wsClients(),
			Sinks:     sinks,
		}
		if last, ok := src.LastExit(); ok {
			resp.LastExit = &last
		}
		resp.Subscriptions.Commands, resp.Subscriptions.Events = src.Subscriptions()
		c.JSON(http.StatusOK, resp)
	}
}

func adapterInfoHandler(src StatusSource, ctl AdapterControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()

		info, err := ctl.AdapterInfo(ctx, src.Adapter().MAC)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// adapterPatchHandler 依次修改属性，遇错即停；成功后返回最新属性
func adapterPatchHandler(src StatusSource, ctl AdapterControl, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch adapterPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mac := src.Adapter().MAC
		setters, err := patch.setters(ctl, mac)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()

		applied := make([]string, 0, len(setters))
		for _, s := range setters {
			if err := s.set(ctx); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "property": s.prop, "applied": applied})
				return
			}
			applied = append(applied, s.prop)
		}
		logger.Info("adapter properties updated", zap.String("mac", mac), zap.Strings("applied", applied))

		info, err := ctl.AdapterInfo(ctx, mac)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "applied": applied})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// adapterResetHandler 默认下发 HCI_Reset；?via=hciconfig 改用 hciconfig <hci> reset
func adapterResetHandler(src StatusSource, ctl AdapterControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()

		switch c.Query("via") {
		case "", "hcitool":
		case "hciconfig":
			if err := ctl.Reset(ctx, src.Adapter().HCI); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "via must be hcitool or hciconfig"})
			return
		}

		res := ctl.HCIReset(ctx, src.Adapter().HCI)
		if !res.OK {
			body := gin.H{"ok": false}
			if res.Err != nil {
				body["code"] = res.Err.Code
				body["error"] = res.Err.Text
			}
			c.JSON(http.StatusBadGateway, body)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "ogf": res.OGF, "ocf": res.OCF})
	}
}
