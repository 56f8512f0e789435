package hci

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoAdapter 未找到控制器
var ErrNoAdapter = errors.New("hci adapter not found")

// Adapter 本地控制器标识
type Adapter struct {
	HCI string `json:"hci"` // 接口名，小写，如 hci0
	MAC string `json:"mac"` // 硬件地址，大写
}

// NewAdapter 规范化大小写
func NewAdapter(hci, mac string) Adapter {
	return Adapter{HCI: strings.ToLower(hci), MAC: strings.ToUpper(mac)}
}

var (
	reIfaceLine = regexp.MustCompile(`^([^\s:]+):`)
	reBDAddr    = regexp.MustCompile(`(?i)BD\sAddress:\s+((?:[a-f0-9]{2})(?::[a-f0-9]{2}){5})`)
)

// ParseHciconfig 解析 hciconfig 输出
// 每个接口以 "hciN:" 开头，随后某行包含 "BD Address: xx:xx:xx:xx:xx:xx"
func ParseHciconfig(lines []string) map[string]Adapter {
	adapters := make(map[string]Adapter)
	iface := ""
	for _, line := range lines {
		if iface == "" {
			if m := reIfaceLine.FindStringSubmatch(line); m != nil {
				iface = m[1]
			}
			continue
		}
		m := reBDAddr.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		a := NewAdapter(iface, m[1])
		adapters[a.HCI] = a
		iface = ""
	}
	return adapters
}

// Adapters 列出本地控制器
func (c *Client) Adapters(ctx context.Context) (map[string]Adapter, error) {
	lines, err := c.runner.Run(ctx, "hciconfig")
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrNoAdapter
	}
	return ParseHciconfig(lines), nil
}

// FindAdapter 按接口名或 MAC 查找（大小写不敏感）；known 为空时执行 hciconfig
func (c *Client) FindAdapter(ctx context.Context, hciOrMAC string, known map[string]Adapter) (Adapter, error) {
	if len(known) == 0 {
		var err error
		if known, err = c.Adapters(ctx); err != nil {
			return Adapter{}, err
		}
	}
	if a, ok := LookupAdapter(known, hciOrMAC); ok {
		return a, nil
	}
	return Adapter{}, fmt.Errorf("%w: %s", ErrNoAdapter, hciOrMAC)
}

// LookupAdapter 在已知控制器中查找
func LookupAdapter(adapters map[string]Adapter, hciOrMAC string) (Adapter, bool) {
	key := strings.ToLower(hciOrMAC)
	for _, a := range adapters {
		if key == a.HCI || key == strings.ToLower(a.MAC) {
			return a, true
		}
	}
	return Adapter{}, false
}

// Reset hciconfig <hci> reset
func (c *Client) Reset(ctx context.Context, hci string) error {
	_, err := c.runner.Run(ctx, "hciconfig", hci, "reset")
	return err
}
