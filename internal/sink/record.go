package sink

import (
	"fmt"
	"time"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/hcidump"
)

// Record 对外发布的包记录
type Record struct {
	RunID     string    `json:"run_id,omitempty"`
	Adapter   string    `json:"adapter,omitempty"`
	Direction string    `json:"direction"`
	Identity  string    `json:"identity"` // 命令为线序操作码（如 030C），事件为事件码（如 0E）
	Name      string    `json:"name,omitempty"`
	OGF       string    `json:"ogf,omitempty"`
	OCF       string    `json:"ocf,omitempty"`
	Code      string    `json:"code,omitempty"`
	Params    string    `json:"params"`
	TS        time.Time `json:"ts"`
}

// Topic 相对主题：cmd.<opHex> / evt.<codeHex>
func (r Record) Topic() string {
	if r.Direction == hcidump.DirEvent.String() {
		return "evt." + r.Identity
	}
	return "cmd." + r.Identity
}

// CommandRecord 由命令包构造记录
func CommandRecord(c hcidump.Command, names *hci.Names, ts time.Time) Record {
	h := c.Header()
	return Record{
		Direction: hcidump.DirCommand.String(),
		Identity:  h.Opcode.Hex(),
		Name:      names.Command(h.Opcode),
		OGF:       fmt.Sprintf("0x%02x", h.OGF()),
		OCF:       fmt.Sprintf("0x%04x", h.OCF()),
		Params:    h.Params,
		TS:        ts,
	}
}

// EventRecord 由事件包构造记录
func EventRecord(e hcidump.Event, names *hci.Names, ts time.Time) Record {
	h := e.Header()
	return Record{
		Direction: hcidump.DirEvent.String(),
		Identity:  h.CodeHex(),
		Name:      names.Event(h.Code),
		Code:      fmt.Sprintf("0x%02x", h.Code),
		Params:    h.Params,
		TS:        ts,
	}
}
