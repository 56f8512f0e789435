package hci

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRunner 记录调用并返回预置输出
type fakeRunner struct {
	calls  [][]string
	output map[string][]string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	return f.output[name], f.err
}

func (f *fakeRunner) last() string {
	if len(f.calls) == 0 {
		return ""
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func TestCmdArgs(t *testing.T) {
	args := CmdArgs("hci0", 0x08, 0x000C, 1, 0)
	assert.Equal(t, "-i hci0 cmd 0x8 0xc 0x1 0x0", strings.Join(args, " "))
}

func TestClient_Cmd(t *testing.T) {
	r := &fakeRunner{output: map[string][]string{
		"hcitool": {
			"< HCI Command: ogf 0x03, ocf 0x0003, plen 0",
			"> HCI Event: 0x0e plen 4",
			"  01 03 0C 00 ",
		},
	}}
	c := NewClient(r, zap.NewNop())

	ret, err := c.Cmd(context.Background(), "hci0", 0x03, 0x0003)
	require.NoError(t, err)
	assert.Equal(t, "01030C00", ret)
	assert.Equal(t, "hcitool -i hci0 cmd 0x3 0x3", r.last())
}

func TestClient_Cmd_NoEvent(t *testing.T) {
	r := &fakeRunner{output: map[string][]string{"hcitool": {"< HCI Command: ogf 0x03, ocf 0x0003, plen 0"}}}
	c := NewClient(r, zap.NewNop())

	ret, err := c.Cmd(context.Background(), "hci0", 0x03, 0x0003)
	require.NoError(t, err)
	assert.Equal(t, "", ret)
}

func TestClient_HCIReset_Failure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := &fakeRunner{err: errors.New("exit status 1")}
	c := NewClient(r, zap.New(core))

	res := c.HCIReset(context.Background(), "hci0")
	assert.False(t, res.OK)
	assert.Equal(t, "NA", res.Err.Code)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "HCI: NA No response [HCIReset,")
}

func TestClient_SilenceNext(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := &fakeRunner{output: map[string][]string{"hcitool": {"> HCI Event: 0x0e plen 4", "01 03 0C 0C"}}}
	c := NewClient(r, zap.New(core))

	c.SilenceNext()
	res := c.HCIReset(context.Background(), "hci0")
	assert.False(t, res.OK)
	assert.Equal(t, "0C", res.Err.Code)
	assert.Equal(t, 0, logs.Len())

	// 只静默一次
	c.HCIReset(context.Background(), "hci0")
	assert.Equal(t, 1, logs.Len())
}

func TestClient_SetEventMask(t *testing.T) {
	r := &fakeRunner{output: map[string][]string{"hcitool": {"> HCI Event: 0x0e plen 4", "01 01 0C 00"}}}
	c := NewClient(r, zap.NewNop())

	res := c.SetEventMask(context.Background(), "hci1", 0x20001FFFFFFFFFFF)
	assert.True(t, res.OK)
	assert.Equal(t, "0001", res.OCF)
	assert.Equal(t, "hcitool -i hci1 cmd 0x3 0x1 0xff 0xff 0xff 0xff 0xff 0x1f 0x0 0x20", r.last())
}

func TestParseHciconfig(t *testing.T) {
	lines := []string{
		"hci1:\tType: Primary  Bus: USB",
		"\tBD Address: 00:1a:7d:da:71:13  ACL MTU: 310:10  SCO MTU: 64:8",
		"\tUP RUNNING",
		"",
		"hci0:\tType: Primary  Bus: UART",
		"\tBD Address: B8:27:EB:12:34:56  ACL MTU: 1021:8  SCO MTU: 64:1",
	}
	adapters := ParseHciconfig(lines)
	require.Len(t, adapters, 2)
	assert.Equal(t, Adapter{HCI: "hci1", MAC: "00:1A:7D:DA:71:13"}, adapters["hci1"])
	assert.Equal(t, "B8:27:EB:12:34:56", adapters["hci0"].MAC)
}

func TestClient_FindAdapter(t *testing.T) {
	r := &fakeRunner{output: map[string][]string{"hciconfig": {
		"hci0:\tType: Primary  Bus: UART",
		"\tBD Address: B8:27:EB:12:34:56  ACL MTU: 1021:8  SCO MTU: 64:1",
	}}}
	c := NewClient(r, zap.NewNop())
	ctx := context.Background()

	a, err := c.FindAdapter(ctx, "HCI0", nil)
	require.NoError(t, err)
	assert.Equal(t, "hci0", a.HCI)

	a, err = c.FindAdapter(ctx, "b8:27:eb:12:34:56", nil)
	require.NoError(t, err)
	assert.Equal(t, "hci0", a.HCI)

	_, err = c.FindAdapter(ctx, "hci9", nil)
	assert.ErrorIs(t, err, ErrNoAdapter)

	// 使用已知列表时不再执行 hciconfig
	n := len(r.calls)
	known := map[string]Adapter{"hci3": NewAdapter("HCI3", "aa:bb:cc:dd:ee:ff")}
	a, err = c.FindAdapter(ctx, "hci3", known)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", a.MAC)
	assert.Len(t, r.calls, n)
}

func TestClient_Adapters_Empty(t *testing.T) {
	c := NewClient(&fakeRunner{}, zap.NewNop())
	_, err := c.Adapters(context.Background())
	assert.ErrorIs(t, err, ErrNoAdapter)
}

func TestClient_Reset(t *testing.T) {
	r := &fakeRunner{}
	c := NewClient(r, zap.NewNop())
	require.NoError(t, c.Reset(context.Background(), "hci0"))
	assert.Equal(t, "hciconfig hci0 reset", r.last())
}
