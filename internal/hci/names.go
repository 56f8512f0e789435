package hci

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Names 操作码/事件码名称表，用于日志与输出标签
type Names struct {
	commands map[Opcode]string
	events   map[uint8]string
}

var defaultCommandNames = map[Opcode]string{
	Encode(OGFLinkControl, 0x0001):  "Inquiry",
	Encode(OGFLinkControl, 0x0002):  "Inquiry_Cancel",
	Encode(OGFLinkControl, 0x0005):  "Create_Connection",
	Encode(OGFLinkControl, 0x0006):  "Disconnect",
	Encode(OGFHostControl, 0x0001):  "Set_Event_Mask",
	Encode(OGFHostControl, 0x0003):  "Reset",
	Encode(OGFHostControl, 0x0013):  "Write_Local_Name",
	Encode(OGFHostControl, 0x0014):  "Read_Local_Name",
	Encode(OGFInfoParam, 0x0001):    "Read_Local_Version_Information",
	Encode(OGFInfoParam, 0x0009):    "Read_BD_ADDR",
	Encode(OGFLEController, 0x0001): "LE_Set_Event_Mask",
	Encode(OGFLEController, 0x0005): "LE_Set_Random_Address",
	Encode(OGFLEController, 0x0006): "LE_Set_Advertising_Parameters",
	Encode(OGFLEController, 0x0008): "LE_Set_Advertising_Data",
	Encode(OGFLEController, 0x000A): "LE_Set_Advertising_Enable",
	Encode(OGFLEController, 0x000B): "LE_Set_Scan_Parameters",
	Encode(OGFLEController, 0x000C): "LE_Set_Scan_Enable",
	Encode(OGFLEController, 0x000D): "LE_Create_Connection",
}

var defaultEventNames = map[uint8]string{
	0x01: "Inquiry_Complete",
	0x03: "Connection_Complete",
	0x05: "Disconnection_Complete",
	0x0E: "Command_Complete",
	0x0F: "Command_Status",
	0x13: "Number_Of_Completed_Packets",
	0x3E: "LE_Meta",
	0xFF: "Vendor",
}

// DefaultNames 内置名称表
func DefaultNames() *Names {
	n := &Names{
		commands: make(map[Opcode]string, len(defaultCommandNames)),
		events:   make(map[uint8]string, len(defaultEventNames)),
	}
	for k, v := range defaultCommandNames {
		n.commands[k] = v
	}
	for k, v := range defaultEventNames {
		n.events[k] = v
	}
	return n
}

type namesFile struct {
	Commands map[string]string `yaml:"commands"`
	Events   map[string]string `yaml:"events"`
}

// LoadNames 读取 YAML 名称表并覆盖到内置表之上
// 键为数值操作码/事件码文本，如 "0x0C03"、"0x0E"
func LoadNames(path string) (*Names, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	return ParseNames(b)
}

// ParseNames 解析 YAML 名称表
func ParseNames(b []byte) (*Names, error) {
	var f namesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	n := DefaultNames()
	for k, v := range f.Commands {
		op, err := strconv.ParseUint(k, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("bad opcode %q: %w", k, err)
		}
		n.commands[Opcode(op)] = v
	}
	for k, v := range f.Events {
		code, err := strconv.ParseUint(k, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("bad event code %q: %w", k, err)
		}
		n.events[uint8(code)] = v
	}
	return n, nil
}

// Command 未知时返回空串
func (n *Names) Command(op Opcode) string {
	if n == nil {
		return ""
	}
	return n.commands[op]
}

// Event 未知时返回空串
func (n *Names) Event(code uint8) string {
	if n == nil {
		return ""
	}
	return n.events[code]
}
