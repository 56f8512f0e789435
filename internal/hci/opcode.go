package hci

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// 命令分组（OGF）
const (
	OGFLinkControl  uint8 = 0x01
	OGFLinkPolicy   uint8 = 0x02
	OGFHostControl  uint8 = 0x03
	OGFInfoParam    uint8 = 0x04
	OGFStatusParam  uint8 = 0x05
	OGFTesting      uint8 = 0x06
	OGFLEController uint8 = 0x08
	OGFVendor       uint8 = 0x3F
)

const (
	ogfMask = 0x3F
	ocfMask = 0x03FF
)

// 通配标识：未安装更具体处理器时兜底
const (
	OpcodeWildcard    Opcode = 0x0000
	EventCodeWildcard uint8  = 0x00
)

// Opcode HCI 命令操作码：高 6 位 OGF，低 10 位 OCF
type Opcode uint16

// Encode 组合 OGF/OCF 为操作码（超出位宽的部分被截断）
func Encode(ogf uint8, ocf uint16) Opcode {
	return Opcode(uint16(ogf&ogfMask)<<10 | ocf&ocfMask)
}

// Decode 拆分操作码为 OGF/OCF
func (op Opcode) Decode() (ogf uint8, ocf uint16) {
	return op.OGF(), op.OCF()
}

func (op Opcode) OGF() uint8  { return uint8(uint16(op) >> 10) }
func (op Opcode) OCF() uint16 { return uint16(op) & ocfMask }

// Bytes 线上格式（小端 2 字节）
func (op Opcode) Bytes() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(op))
	return b
}

// Hex 线上字节的十六进制文本（hcidump 输出形式，如 HCI_Reset 0x0C03 -> "030C"）
func (op Opcode) Hex() string {
	return strings.ToUpper(hex.EncodeToString(op.Bytes()))
}

func (op Opcode) String() string {
	return fmt.Sprintf("0x%04X", uint16(op))
}

// OpcodeFromBytes 从小端 2 字节解析操作码
func OpcodeFromBytes(b []byte) (Opcode, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return Opcode(binary.LittleEndian.Uint16(b)), true
}

// ParseOpcodeHex 解析 4 位十六进制线上文本（大小写不敏感）
func ParseOpcodeHex(s string) (Opcode, bool) {
	b, ok := decodeHexWidth(s, 2)
	if !ok {
		return 0, false
	}
	return OpcodeFromBytes(b)
}

// HexOpcodeToOgfOcf 线上文本 -> (OGF 2 位, OCF 4 位大端) 十六进制文本
func HexOpcodeToOgfOcf(opHex string) (ogfHex, ocfHex string, ok bool) {
	op, ok := ParseOpcodeHex(opHex)
	if !ok {
		return "", "", false
	}
	return fmt.Sprintf("%02X", op.OGF()), fmt.Sprintf("%04X", op.OCF()), true
}

// HexOgfOcfToOpcode (OGF, OCF) 十六进制文本 -> 线上文本
// OGF 为 1 字节，OCF 为 2 字节大端；超出 6/10 位视为非法
func HexOgfOcfToOpcode(ogfHex, ocfHex string) (string, bool) {
	ogfb, ok := decodeHexWidth(ogfHex, 1)
	if !ok {
		return "", false
	}
	ocfb, ok := decodeHexWidth(ocfHex, 2)
	if !ok {
		return "", false
	}
	ogf := ogfb[0]
	ocf := binary.BigEndian.Uint16(ocfb)
	if ogf > ogfMask || ocf > ocfMask {
		return "", false
	}
	return Encode(ogf, ocf).Hex(), true
}

// ParseEventCodeHex 解析 2 位十六进制事件码
func ParseEventCodeHex(s string) (uint8, bool) {
	b, ok := decodeHexWidth(s, 1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

// EventCodeHex 事件码的十六进制文本
func EventCodeHex(code uint8) string {
	return fmt.Sprintf("%02X", code)
}

func decodeHexWidth(s string, width int) ([]byte, bool) {
	if len(s) != width*2 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}
