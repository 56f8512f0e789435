package hcidump

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
)

const opReset = hci.Opcode(0x0C03)

func newTestDump(t *testing.T, opts ...Option) *Dump {
	t.Helper()
	base := []Option{WithLogger(zaptest.NewLogger(t)), WithAutostart(false)}
	return New(hci.NewAdapter("hci0", "00:11:22:33:44:55"), append(base, opts...)...)
}

// resetCommand 自定义命令类型，用于区分解析规则
type resetCommand struct {
	CommandHeader
	parsedBy string
}

func resetHandler(tag string) CommandHandler {
	return CommandHandlerFunc(opReset, func(op hci.Opcode, _ []byte, _ *Dump) Command {
		return &resetCommand{CommandHeader: CommandHeader{Opcode: op}, parsedBy: tag}
	})
}

func eventHandler(code uint8) EventHandler {
	return EventHandlerFunc(code, func(code uint8, _ []byte, _ *Dump) Event {
		return &UnknownEvent{EventHeader: EventHeader{Code: code}}
	})
}

type collector struct {
	commands []Command
	events   []Event
}

func (c *collector) onCommand(cmd Command) error {
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *collector) onEvent(e Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestFeed_ZeroLengthCommand(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnCommand(c.onCommand, resetHandler("a"))

	require.NoError(t, d.Feed([]byte("<01030C00")))
	require.Len(t, c.commands, 1)
	h := c.commands[0].Header()
	assert.Equal(t, opReset, h.Opcode)
	assert.Equal(t, hci.OGFHostControl, h.OGF())
	assert.Equal(t, uint16(0x003), h.OCF())
	assert.Equal(t, "", h.Params)
	assert.Empty(t, d.buffered())
}

func TestFeed_WildcardEventLowercasesParams(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnEvent(c.onEvent, nil)

	require.NoError(t, d.Feed([]byte(">040E02AABB")))
	require.Len(t, c.events, 1)
	e, ok := c.events[0].(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, uint8(0x0E), e.Code)
	assert.Equal(t, "0E", e.CodeHex())
	assert.Equal(t, "aabb", e.Params)
}

func TestFeed_ChunkBoundariesDoNotMatter(t *testing.T) {
	stream := "< 01 03 0C 04 01 02 03 04\n> 04 0E 04 01 03 0C 00\n"

	whole := newTestDump(t)
	var a collector
	whole.OnCommand(a.onCommand, nil)
	whole.OnEvent(a.onEvent, nil)
	require.NoError(t, whole.Feed([]byte(stream)))

	split := newTestDump(t)
	var b collector
	split.OnCommand(b.onCommand, nil)
	split.OnEvent(b.onEvent, nil)
	for i := 0; i < len(stream); i++ {
		require.NoError(t, split.Feed([]byte{stream[i]}))
	}

	require.Len(t, a.commands, 1)
	require.Len(t, a.events, 1)
	require.Len(t, b.commands, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "01020304", a.commands[0].Header().Params)
	assert.Equal(t, a.commands[0].Header(), b.commands[0].Header())
	assert.Equal(t, "01030c00", b.events[0].Header().Params)
	assert.Equal(t, a.events[0].Header(), b.events[0].Header())
}

func TestFeed_DesyncAbandonsPartialPacket(t *testing.T) {
	var partials []Partial
	d := newTestDump(t, WithDesyncHandler(func(p Partial) { partials = append(partials, p) }))
	var c collector
	d.OnCommand(c.onCommand, resetHandler("a"))
	d.OnEvent(c.onEvent, eventHandler(0x0E))

	require.NoError(t, d.Feed([]byte("<01030C04AABB")))
	require.NoError(t, d.Feed([]byte(">040E01FF")))

	assert.Empty(t, c.commands)
	require.Len(t, c.events, 1)
	assert.Equal(t, "ff", c.events[0].Header().Params)

	require.Len(t, partials, 1)
	assert.Equal(t, DirCommand, partials[0].Direction)
	assert.Equal(t, 2, partials[0].Missing)
	assert.Equal(t, []byte{'<', 0x01, 0x03, 0x0C, 0x04, 0xAA, 0xBB}, partials[0].Raw)
}

func TestFeed_DesyncWithinOneChunk(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAppMetrics(reg)
	d := newTestDump(t, WithMetrics(m))
	var c collector
	d.OnCommand(c.onCommand, nil)

	require.NoError(t, d.Feed([]byte("<01030C04AA<01050C0101")))
	require.Len(t, c.commands, 1)
	assert.Equal(t, hci.Opcode(0x0C05), c.commands[0].Header().Opcode)
	assert.Equal(t, "01", c.commands[0].Header().Params)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DesyncTotal))
}

func TestFeed_SkipsGarbageAndUnpairedMarkers(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnEvent(c.onEvent, eventHandler(0x0E))

	// 非十六进制字符被过滤；"<04" 不是合法的命令前缀，只丢弃标记
	require.NoError(t, d.Feed([]byte("HCI sniffer - xyz 12 <040E00 >040E00")))
	require.Len(t, c.events, 1)
	assert.Equal(t, uint8(0x0E), c.events[0].Header().Code)
	assert.Empty(t, d.buffered())
}

func TestFeed_UnhandledPacketSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAppMetrics(reg)
	d := newTestDump(t, WithMetrics(m))
	var c collector
	d.OnCommand(c.onCommand, CommandHandlerFunc(0x0C05, func(op hci.Opcode, _ []byte, _ *Dump) Command {
		return &UnknownCommand{CommandHeader: CommandHeader{Opcode: op}}
	}))

	require.NoError(t, d.Feed([]byte("<01030C02AABB<01050C00")))
	require.Len(t, c.commands, 1)
	assert.Equal(t, hci.Opcode(0x0C05), c.commands[0].Header().Opcode)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnhandledTotal.WithLabelValues("command")))
	// 头部 9 字符 + 参数 4 字符
	assert.Equal(t, float64(13), testutil.ToFloat64(m.JunkBytesTotal))
}

func TestFeed_MarkerInsideHeaderRestarts(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnCommand(c.onCommand, nil)
	d.OnEvent(c.onEvent, nil)

	require.NoError(t, d.Feed([]byte("<0103>040E00")))
	assert.Empty(t, c.commands)
	require.Len(t, c.events, 1)
	assert.Equal(t, uint8(0x0E), c.events[0].Header().Code)
}

func TestFeed_IncompleteHeaderWaits(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnCommand(c.onCommand, nil)

	require.NoError(t, d.Feed([]byte("<01030")))
	assert.Equal(t, "<01030", string(d.buffered()))
	require.NoError(t, d.Feed([]byte("C0")))
	assert.Empty(t, c.commands)
	require.NoError(t, d.Feed([]byte("0")))
	require.Len(t, c.commands, 1)
}

func TestHandlers_FirstRegistrationWins(t *testing.T) {
	d := newTestDump(t)
	d.AddCommandHandler(resetHandler("first"))
	var c collector
	d.OnCommand(c.onCommand, resetHandler("second"))

	require.NoError(t, d.Feed([]byte("<01030C00")))
	require.Len(t, c.commands, 1)
	cmd, ok := c.commands[0].(*resetCommand)
	require.True(t, ok)
	assert.Equal(t, "first", cmd.parsedBy)

	h, ok := d.CommandHandler(opReset)
	require.True(t, ok)
	assert.NotNil(t, h)
}

func TestHandlers_SpecificBeforeWildcard(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnCommand(c.onCommand, nil)
	d.AddCommandHandler(resetHandler("specific"))

	require.NoError(t, d.Feed([]byte("<01030C00<01050C00")))
	require.Len(t, c.commands, 2)
	_, specific := c.commands[0].(*resetCommand)
	_, unknown := c.commands[1].(*UnknownCommand)
	assert.True(t, specific)
	assert.True(t, unknown)
}

func TestListeners_OrderedBySubscription(t *testing.T) {
	d := newTestDump(t)
	var order []int
	record := func(n int) CommandListener {
		return func(Command) error {
			order = append(order, n)
			return nil
		}
	}
	d.OnCommand(record(1), nil)
	d.OnCommand(record(2), resetHandler("a"))
	d.OnCommand(record(3), nil)
	d.OnCommand(record(4), resetHandler("a"))

	require.NoError(t, d.Feed([]byte("<01030C00")))
	assert.Equal(t, []int{1, 2, 3, 4}, order)

	order = nil
	require.NoError(t, d.Feed([]byte("<01050C00")))
	assert.Equal(t, []int{1, 3}, order)
}

func TestListeners_UnsubscribeDuringDispatch(t *testing.T) {
	d := newTestDump(t)
	calls := 0
	var id int
	id = d.OnCommand(func(Command) error {
		calls++
		d.Unsubscribe(id)
		return nil
	}, nil)

	require.NoError(t, d.Feed([]byte("<01030C00<01030C00")))
	assert.Equal(t, 1, calls)
	cmds, evts := d.Subscriptions()
	assert.Zero(t, cmds)
	assert.Zero(t, evts)
}

func TestListeners_RemoveKeepsHandler(t *testing.T) {
	d := newTestDump(t)
	id := d.OnCommand(func(Command) error { return nil }, resetHandler("a"))
	d.RemoveCommandListener(id)

	_, ok := d.CommandHandler(opReset)
	assert.True(t, ok)
	cmds, _ := d.Subscriptions()
	assert.Zero(t, cmds)
}

func TestDispatch_RejectedPacket(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAppMetrics(reg)
	d := newTestDump(t, WithMetrics(m))
	called := false
	d.OnEvent(func(Event) error {
		called = true
		return nil
	}, EventHandlerFunc(0x0E, func(uint8, []byte, *Dump) Event { return nil }))

	require.NoError(t, d.Feed([]byte(">040E0101")))
	assert.False(t, called)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RejectedTotal.WithLabelValues("event")))
}

func TestDispatch_ListenerErrorStopsDelivery(t *testing.T) {
	d := newTestDump(t)
	errBoom := errors.New("boom")
	failures := 1
	var second int
	d.OnCommand(func(Command) error {
		if failures > 0 {
			failures--
			return errBoom
		}
		return nil
	}, nil)
	d.OnCommand(func(Command) error {
		second++
		return nil
	}, nil)

	err := d.Feed([]byte("<01030C00<01030C00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "0x0C03")
	assert.Zero(t, second)
	assert.Equal(t, "<01030C00", string(d.buffered()))

	require.NoError(t, d.Feed(nil))
	assert.Equal(t, 1, second)
	assert.Empty(t, d.buffered())
}

// oddParamFilter 只放行首个参数字节为 0x01 的事件
type oddParamFilter struct{ EventHandler }

func (oddParamFilter) Filter(next EventListener) EventListener {
	return func(e Event) error {
		if len(e.Header().Params) < 2 || e.Header().Params[:2] != "01" {
			return nil
		}
		return next(e)
	}
}

func TestEventFilter_WrapsListener(t *testing.T) {
	d := newTestDump(t)
	var c collector
	d.OnEvent(c.onEvent, oddParamFilter{eventHandler(0x0E)})

	require.NoError(t, d.Feed([]byte(">040E0102>040E0101")))
	require.Len(t, c.events, 1)
	assert.Equal(t, "01", c.events[0].Header().Params)
}

func TestDump_ErrorTexts(t *testing.T) {
	d := newTestDump(t)
	assert.Equal(t, "0C Command Disallowed", d.Error("0c").Error())
	assert.Equal(t, "hci0", d.Adapter().HCI)
}
