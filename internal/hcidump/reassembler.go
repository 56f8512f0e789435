package hcidump

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
)

// 头部长度（含方向标记，单位：十六进制字符）
// 命令：'<' 01 opcode(4) len(2)
// 事件：'>' 04 code(2) len(2)
const (
	commandHeaderLen = 9
	eventHeaderLen   = 7
	minHeaderPrefix  = 3
)

var markers = string([]byte{markerCommand, markerEvent})

// Feed 追加一段原始输出并尽可能完成重组与分发
//
// 非法输入一律作为垃圾丢弃，不返回错误。唯一的错误来源是监听器：
// 出错时缓冲状态已一致，该包剩余的监听器不再调用，错误原样上抛；
// 尚未处理的文本保留到下一次 Feed。
func (d *Dump) Feed(chunk []byte) error {
	d.feedMu.Lock()
	defer d.feedMu.Unlock()
	defer d.compact()

	d.text = appendSanitized(d.text, chunk)

	for {
		pkt, more := d.step()
		if pkt != nil {
			if err := d.dispatch(pkt); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

// appendSanitized 只保留 0-9 a-f A-F < >
func appendSanitized(dst, chunk []byte) []byte {
	for _, c := range chunk {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F', c == markerCommand, c == markerEvent:
			dst = append(dst, c)
		}
	}
	return dst
}

func (d *Dump) buffered() []byte { return d.text[d.off:] }

func (d *Dump) consume(n int) { d.off += n }

func (d *Dump) drop(n int) {
	d.metrics.Junk(n)
	d.off += n
}

func (d *Dump) compact() {
	n := copy(d.text, d.text[d.off:])
	d.text = d.text[:n]
	d.off = 0
}

// step 推进一次状态机
// 返回完整的包（若有）以及是否还需继续处理已缓冲数据
func (d *Dump) step() (pkt []byte, more bool) {
	if len(d.buffered()) == 0 {
		return nil, false
	}
	if d.remaining > 0 {
		return d.continuePacket()
	}
	return d.startPacket()
}

// continuePacket 为进行中的包补充参数字节
func (d *Dump) continuePacket() ([]byte, bool) {
	buf := d.buffered()
	cont := buf
	idx := bytes.IndexAny(buf, markers)
	if idx >= 0 {
		cont = buf[:idx]
	}
	need := d.remaining * 2

	if idx >= 0 && len(cont) < need {
		// 下一个包已开始而当前包无法补齐：放弃当前包，从标记处重新同步
		have := len(cont) &^ 1
		d.pending = appendHex(d.pending, cont[:have])
		d.remaining -= have / 2
		d.abandon()
		d.drop(idx)
		return nil, true
	}

	n := min(len(cont), need) &^ 1
	if n == 0 {
		return nil, false
	}
	d.pending = appendHex(d.pending, cont[:n])
	d.remaining -= n / 2
	d.consume(n)
	if d.remaining > 0 {
		return nil, false
	}

	pkt := d.pending
	d.pending = nil
	return pkt, true
}

// startPacket 在空闲状态下寻找并解析下一个包头
func (d *Dump) startPacket() ([]byte, bool) {
	buf := d.buffered()
	idx := bytes.IndexAny(buf, markers)
	if idx < 0 {
		d.drop(len(buf))
		return nil, false
	}
	if idx > 0 {
		d.drop(idx)
		buf = buf[idx:]
	}
	if len(buf) < minHeaderPrefix {
		return nil, false
	}

	var dir Direction
	var hdrLen int
	switch {
	case buf[0] == markerCommand && buf[1] == '0' && buf[2] == '1':
		dir, hdrLen = DirCommand, commandHeaderLen
	case buf[0] == markerEvent && buf[1] == '0' && buf[2] == '4':
		dir, hdrLen = DirEvent, eventHeaderLen
	default:
		// 未知类型，只丢弃标记本身
		d.drop(1)
		return nil, true
	}
	if len(buf) < hdrLen {
		return nil, false
	}
	if m := bytes.IndexAny(buf[1:hdrLen], markers); m >= 0 {
		// 头部内出现新标记：声明的头部是残缺的，从内部标记重新开始
		d.drop(m + 1)
		return nil, true
	}

	hdr := appendHex(make([]byte, 0, hdrLen), buf[1:hdrLen])
	if !d.handles(dir, hdr) {
		// 无人关心：只丢头部，参数随后作为垃圾跳过，不做缓冲
		d.metrics.Unhandled(dir.String())
		d.drop(hdrLen)
		return nil, true
	}

	d.consume(hdrLen)
	pkt := append([]byte{buf[0]}, hdr...)
	plen := int(hdr[len(hdr)-1])
	if plen == 0 {
		return pkt, true
	}
	d.pending = pkt
	d.remaining = plen
	return nil, true
}

// handles 具体标识或通配标识是否安装了处理器
// hdr 为解码后的头部：命令 [01 opLo opHi len]，事件 [04 code len]
func (d *Dump) handles(dir Direction, hdr []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if dir == DirCommand {
		op, _ := hci.OpcodeFromBytes(hdr[1:3])
		_, ok := d.cmdHandlers[op]
		_, wild := d.cmdHandlers[hci.OpcodeWildcard]
		return ok || wild
	}
	_, ok := d.evtHandlers[hdr[1]]
	_, wild := d.evtHandlers[hci.EventCodeWildcard]
	return ok || wild
}

func (d *Dump) abandon() {
	partial := Partial{
		Direction: DirCommand,
		Raw:       d.pending,
		Missing:   d.remaining,
	}
	if len(d.pending) > 0 && d.pending[0] == markerEvent {
		partial.Direction = DirEvent
	}
	d.pending = nil
	d.remaining = 0

	d.metrics.Desync()
	if d.warnLimit.Allow() {
		d.logger.Warn("packet abandoned: next packet started early",
			zap.String("direction", partial.Direction.String()),
			zap.Int("missing", partial.Missing))
	}
	if d.onDesync != nil {
		d.onDesync(partial)
	}
}

func appendHex(dst, src []byte) []byte {
	out := make([]byte, hex.DecodedLen(len(src)))
	// 输入已过滤且不含标记，只可能是合法十六进制
	n, _ := hex.Decode(out, src)
	return append(dst, out[:n]...)
}

// dispatch 把完整的包交给处理器解析并通知监听器
// 包布局：marker | type | identity... | len | params
func (d *Dump) dispatch(pkt []byte) error {
	switch pkt[0] {
	case markerCommand:
		op, _ := hci.OpcodeFromBytes(pkt[2:4])
		return d.dispatchCommand(op, pkt[5:])
	case markerEvent:
		return d.dispatchEvent(pkt[2], pkt[4:])
	}
	return nil
}

func (d *Dump) dispatchCommand(op hci.Opcode, params []byte) error {
	d.mu.RLock()
	h, ok := d.cmdHandlers[op]
	if !ok {
		h, ok = d.cmdHandlers[hci.OpcodeWildcard]
	}
	listeners := collectListeners(d.cmdListeners, op, hci.OpcodeWildcard)
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	cmd := h.Parse(op, params, d)
	if cmd == nil {
		d.metrics.Rejected(DirCommand.String())
		return nil
	}
	cmd.Header().Params = hex.EncodeToString(params)
	d.metrics.Packet(DirCommand.String(), op.Hex())

	for _, l := range listeners {
		if err := l(cmd); err != nil {
			d.metrics.ListenerError()
			return fmt.Errorf("command %s listener: %w", op, err)
		}
	}
	return nil
}

func (d *Dump) dispatchEvent(code uint8, params []byte) error {
	d.mu.RLock()
	h, ok := d.evtHandlers[code]
	if !ok {
		h, ok = d.evtHandlers[hci.EventCodeWildcard]
	}
	listeners := collectListeners(d.evtListeners, code, hci.EventCodeWildcard)
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	evt := h.Parse(code, params, d)
	if evt == nil {
		d.metrics.Rejected(DirEvent.String())
		return nil
	}
	evt.Header().Params = hex.EncodeToString(params)
	d.metrics.Packet(DirEvent.String(), hci.EventCodeHex(code))

	for _, l := range listeners {
		if err := l(evt); err != nil {
			d.metrics.ListenerError()
			return fmt.Errorf("event 0x%02X listener: %w", code, err)
		}
	}
	return nil
}
