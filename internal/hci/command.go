package hci

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Client 外部控制工具的薄封装（hciconfig / hcitool / bt-adapter）
type Client struct {
	runner Runner
	logger *zap.Logger

	mu          sync.Mutex
	silenceNext bool
}

// NewClient 创建客户端；runner 为空时使用 ExecRunner
func NewClient(runner Runner, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Client{runner: runner, logger: logger}
}

// CmdArgs 构造 hcitool cmd 参数
func CmdArgs(hci string, ogf, ocf int, params ...int) []string {
	args := []string{"-i", hci, "cmd", fmt.Sprintf("0x%x", ogf), fmt.Sprintf("0x%x", ocf)}
	for _, p := range params {
		args = append(args, fmt.Sprintf("0x%x", p))
	}
	return args
}

// Cmd 发送原始 HCI 命令，返回 Command Complete 事件之后的十六进制参数
func (c *Client) Cmd(ctx context.Context, hci string, ogf, ocf int, params ...int) (string, error) {
	lines, err := c.runner.Run(ctx, "hcitool", CmdArgs(hci, ogf, ocf, params...)...)
	if err != nil {
		return "", err
	}
	return extractCommandComplete(lines), nil
}

func extractCommandComplete(lines []string) string {
	var sb strings.Builder
	found := false
	for _, line := range lines {
		if found {
			sb.WriteString(hexOnly(line))
			continue
		}
		if strings.HasPrefix(line, "> HCI Event: 0x0e") {
			found = true
		}
	}
	return sb.String()
}

func hexOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x80 && isHexDigit(byte(r)) {
			return r
		}
		return -1
	}, s)
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// SilenceNext 下一次 Result 不记录失败日志
func (c *Client) SilenceNext() {
	c.mu.Lock()
	c.silenceNext = true
	c.mu.Unlock()
}

// Result 解析返回并在失败时记录日志
func (c *Client) Result(ret string, statusByte int, fn string) CommandResult {
	c.mu.Lock()
	silent := c.silenceNext
	c.silenceNext = false
	c.mu.Unlock()

	res := ParseCommandResult(ret, statusByte)
	if res.Err != nil && !silent {
		if fn != "" {
			fn += ","
		}
		c.logger.Error(fmt.Sprintf("HCI: %s %s [%sogf:0x%s,ocf:0x%s]", res.Err.Code, res.Err.Text, fn, res.OGF, res.OCF),
			zap.String("component", "hci"))
	}
	return res
}

// HCIReset HCI_Reset (OGF 0x03, OCF 0x0003)
func (c *Client) HCIReset(ctx context.Context, hci string) CommandResult {
	ret, _ := c.Cmd(ctx, hci, int(OGFHostControl), 0x0003)
	return c.Result(ret, 0, "HCIReset")
}

// SetEventMask HCI_Set_Event_Mask，掩码按小端 8 字节下发
func (c *Client) SetEventMask(ctx context.Context, hci string, mask uint64) CommandResult {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, mask)
	params := make([]int, len(b))
	for i, v := range b {
		params[i] = int(v)
	}
	ret, _ := c.Cmd(ctx, hci, int(OGFHostControl), 0x0001, params...)
	return c.Result(ret, 0, "SetEventMask")
}
