package hcidump

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
)

var opReadBDAddr = hci.Encode(hci.OGFInfoParam, 0x0009)

// readBDAddr 带返回参数的命令类型
type readBDAddr struct {
	CommandHeader
	Addr string
}

func readBDAddrHandler() CommandHandler {
	return CommandHandlerWithReturn(opReadBDAddr,
		func(op hci.Opcode, _ []byte, _ *Dump) Command {
			return &readBDAddr{CommandHeader: CommandHeader{Opcode: op}}
		},
		func(ret []byte, _ *Dump) Command {
			if len(ret) != 6 {
				return nil
			}
			// 地址小端
			return &readBDAddr{
				CommandHeader: CommandHeader{Opcode: opReadBDAddr},
				Addr:          fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", ret[5], ret[4], ret[3], ret[2], ret[1], ret[0]),
			}
		})
}

func TestParseReturn(t *testing.T) {
	d := newTestDump(t)
	d.AddCommandHandler(readBDAddrHandler())

	cmd, ok := d.ParseReturn(opReadBDAddr, []byte{0x13, 0x71, 0xda, 0x7d, 0x1a, 0x00})
	require.True(t, ok)
	assert.Equal(t, "00:1A:7D:DA:71:13", cmd.(*readBDAddr).Addr)

	// 长度不符时拒绝
	_, ok = d.ParseReturn(opReadBDAddr, []byte{0x13})
	assert.False(t, ok)

	// 未安装或不支持返回解析的处理器
	_, ok = d.ParseReturn(opReset, nil)
	assert.False(t, ok)
	d.AddCommandHandler(CommandHandlerFunc(opReset, func(op hci.Opcode, _ []byte, _ *Dump) Command {
		return &UnknownCommand{CommandHeader: CommandHeader{Opcode: op}}
	}))
	_, ok = d.ParseReturn(opReset, nil)
	assert.False(t, ok)

	// 通配处理器不参与
	d.OnCommand(func(Command) error { return nil }, nil)
	_, ok = d.ParseReturn(hci.Encode(hci.OGFInfoParam, 0x0001), nil)
	assert.False(t, ok)
}

func TestParseResult(t *testing.T) {
	d := newTestDump(t)
	d.AddCommandHandler(readBDAddrHandler())

	// ncmd | opcode(LE) | status | BD_ADDR
	res := hci.ParseCommandResult("01"+"0910"+"00"+"1371da7d1a00", 0)
	require.True(t, res.OK)

	cmd, ok := d.ParseResult(res)
	require.True(t, ok)
	assert.Equal(t, "00:1A:7D:DA:71:13", cmd.(*readBDAddr).Addr)
	assert.Equal(t, opReadBDAddr, cmd.Header().Opcode)

	failed := hci.ParseCommandResult("01"+"0910"+"0c", 0)
	require.False(t, failed.OK)
	_, ok = d.ParseResult(failed)
	assert.False(t, ok)

	_, ok = d.ParseResult(hci.CommandResult{OK: true, OGF: "04", OCF: "0009", Ret: "137"})
	assert.False(t, ok)
}
