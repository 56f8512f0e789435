package hci

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrAdapterMismatch bt-adapter 返回的地址与请求不符
var ErrAdapterMismatch = errors.New("adapter info address mismatch")

// AdapterInfo bt-adapter -i 输出的控制器属性
type AdapterInfo struct {
	Adapter

	Name                string `json:"name"`
	Alias               string `json:"alias"`
	Discoverable        bool   `json:"discoverable"`
	DiscoverableTimeout int    `json:"discoverable_timeout"`
	Pairable            bool   `json:"pairable"`
	PairableTimeout     int    `json:"pairable_timeout"`
	Powered             bool   `json:"powered"`
}

var rePropLine = regexp.MustCompile(`^\s*([^:]+):\s*(.+?)(\[r?w?\])?$`)

// ParseBtAdapterInfo 解析 bt-adapter -a <mac> -i 输出
// 首行为 "[hciN]"，其后为 "Key: value [rw]"；Address 必须与 mac 一致。
// into 非空时原地更新并返回 into。
func ParseBtAdapterInfo(mac string, lines []string, into *AdapterInfo) (*AdapterInfo, error) {
	if len(lines) < 2 {
		return nil, ErrNoAdapter
	}
	iface := strings.Trim(lines[0], " []")
	if iface == "" {
		return nil, ErrNoAdapter
	}

	props := make(map[string]string)
	for _, line := range lines[1:] {
		m := rePropLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		props[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
	}

	mac = strings.ToUpper(mac)
	if addr := props["address"]; addr == "" || strings.ToUpper(addr) != mac {
		return nil, ErrAdapterMismatch
	}

	info := into
	if info == nil {
		info = &AdapterInfo{}
	}
	info.Adapter = NewAdapter(iface, mac)

	for k, v := range props {
		switch k {
		case "name":
			info.Name = v
		case "alias":
			info.Alias = v
		case "discoverable":
			info.Discoverable = atoi(v) != 0
		case "discoverabletimeout":
			info.DiscoverableTimeout = atoi(v)
		case "pairable":
			info.Pairable = atoi(v) != 0
		case "pairabletimeout":
			info.PairableTimeout = atoi(v)
		case "powered":
			info.Powered = atoi(v) != 0
		}
	}
	return info, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// BtAdapter bt-adapter -a <mac> <args...>
func (c *Client) BtAdapter(ctx context.Context, mac string, args ...string) ([]string, error) {
	return c.runner.Run(ctx, "bt-adapter", append([]string{"-a", mac}, args...)...)
}

// AdapterInfo 查询控制器属性
func (c *Client) AdapterInfo(ctx context.Context, mac string) (*AdapterInfo, error) {
	return c.fetchInfo(ctx, mac, nil)
}

// UpdateAdapterInfo 重新查询并原地更新
func (c *Client) UpdateAdapterInfo(ctx context.Context, info *AdapterInfo) error {
	_, err := c.fetchInfo(ctx, info.MAC, info)
	return err
}

func (c *Client) fetchInfo(ctx context.Context, mac string, into *AdapterInfo) (*AdapterInfo, error) {
	lines, err := c.BtAdapter(ctx, mac, "-i")
	if err != nil {
		return nil, err
	}
	return ParseBtAdapterInfo(mac, lines, into)
}

func (c *Client) setProp(ctx context.Context, mac, prop, value string) error {
	_, err := c.BtAdapter(ctx, mac, "--set", prop, value)
	return err
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SetAlias 引号会被去除
func (c *Client) SetAlias(ctx context.Context, mac, alias string) error {
	alias = strings.NewReplacer("'", "", `"`, "").Replace(alias)
	return c.setProp(ctx, mac, "Alias", alias)
}

func (c *Client) SetDiscoverable(ctx context.Context, mac string, on bool) error {
	return c.setProp(ctx, mac, "Discoverable", boolArg(on))
}

func (c *Client) SetDiscoverableTimeout(ctx context.Context, mac string, seconds int) error {
	return c.setProp(ctx, mac, "DiscoverableTimeout", strconv.Itoa(seconds))
}

func (c *Client) SetPairable(ctx context.Context, mac string, on bool) error {
	return c.setProp(ctx, mac, "Pairable", boolArg(on))
}

func (c *Client) SetPairableTimeout(ctx context.Context, mac string, seconds int) error {
	return c.setProp(ctx, mac, "PairableTimeout", strconv.Itoa(seconds))
}

func (c *Client) SetPowered(ctx context.Context, mac string, on bool) error {
	return c.setProp(ctx, mac, "Powered", boolArg(on))
}
