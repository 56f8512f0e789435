package hcidump

import "github.com/taoyao-code/hcidump-monitor/internal/hci"

// CommandHeader 所有命令包的公共字段，具体命令类型内嵌此结构
type CommandHeader struct {
	Opcode hci.Opcode
	Params string // 原始参数（小写十六进制），由引擎在解析成功后写入
}

func (h *CommandHeader) Header() *CommandHeader { return h }
func (h *CommandHeader) Direction() Direction   { return DirCommand }
func (h *CommandHeader) OGF() uint8             { return h.Opcode.OGF() }
func (h *CommandHeader) OCF() uint16            { return h.Opcode.OCF() }

// Command 解析后的命令包
type Command interface {
	Header() *CommandHeader
}

// CommandListener 命令监听器；返回错误会中止该包后续监听器的投递
type CommandListener func(Command) error

// CommandHandler 某个操作码的解析规则
// Opcode 对同一实现恒定；Parse 返回 nil 表示拒绝该包。
type CommandHandler interface {
	Opcode() hci.Opcode
	Parse(op hci.Opcode, params []byte, d *Dump) Command
}

// CommandParseFunc 命令解析函数
type CommandParseFunc func(op hci.Opcode, params []byte, d *Dump) Command

type commandHandlerFunc struct {
	op hci.Opcode
	fn CommandParseFunc
}

// CommandHandlerFunc 用函数构造处理器，标识在构造时确定
func CommandHandlerFunc(op hci.Opcode, fn CommandParseFunc) CommandHandler {
	return &commandHandlerFunc{op: op, fn: fn}
}

func (h *commandHandlerFunc) Opcode() hci.Opcode { return h.op }

func (h *commandHandlerFunc) Parse(op hci.Opcode, params []byte, d *Dump) Command {
	return h.fn(op, params, d)
}

// UnknownCommand 未知命令：只记录实际看到的操作码
type UnknownCommand struct {
	CommandHeader
}

// UnknownCommandHandler 通配命令处理器，总是接受
type UnknownCommandHandler struct{}

func (UnknownCommandHandler) Opcode() hci.Opcode { return hci.OpcodeWildcard }

func (UnknownCommandHandler) Parse(op hci.Opcode, _ []byte, _ *Dump) Command {
	return &UnknownCommand{CommandHeader: CommandHeader{Opcode: op}}
}

// ReturnParser 可选：解析该命令 Command Complete 的返回参数
// ret 为状态字节之后的数据；返回 nil 表示拒绝。
type ReturnParser interface {
	ParseReturn(ret []byte, d *Dump) Command
}

// CommandReturnFunc 返回参数解析函数
type CommandReturnFunc func(ret []byte, d *Dump) Command

type commandReturnHandlerFunc struct {
	commandHandlerFunc
	ret CommandReturnFunc
}

// CommandHandlerWithReturn 同 CommandHandlerFunc，另带返回参数解析
func CommandHandlerWithReturn(op hci.Opcode, parse CommandParseFunc, ret CommandReturnFunc) CommandHandler {
	return &commandReturnHandlerFunc{commandHandlerFunc: commandHandlerFunc{op: op, fn: parse}, ret: ret}
}

func (h *commandReturnHandlerFunc) ParseReturn(ret []byte, d *Dump) Command {
	return h.ret(ret, d)
}
