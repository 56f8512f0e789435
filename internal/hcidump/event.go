package hcidump

import "github.com/taoyao-code/hcidump-monitor/internal/hci"

// EventHeader 所有事件包的公共字段
type EventHeader struct {
	Code   uint8
	Params string // 原始参数（小写十六进制）
}

func (h *EventHeader) Header() *EventHeader  { return h }
func (h *EventHeader) Direction() Direction { return DirEvent }
func (h *EventHeader) CodeHex() string      { return hci.EventCodeHex(h.Code) }

// Event 解析后的事件包
type Event interface {
	Header() *EventHeader
}

// EventListener 事件监听器
type EventListener func(Event) error

// EventHandler 某个事件码的解析规则；Parse 返回 nil 表示拒绝
type EventHandler interface {
	Code() uint8
	Parse(code uint8, params []byte, d *Dump) Event
}

// EventFilter 可选接口：包装监听器，实现按子字段过滤或前后处理。
// 订阅时若处理器实现了该接口，保存并调用的是包装后的监听器。
type EventFilter interface {
	Filter(EventListener) EventListener
}

// EventParseFunc 事件解析函数
type EventParseFunc func(code uint8, params []byte, d *Dump) Event

type eventHandlerFunc struct {
	code uint8
	fn   EventParseFunc
}

// EventHandlerFunc 用函数构造事件处理器
func EventHandlerFunc(code uint8, fn EventParseFunc) EventHandler {
	return &eventHandlerFunc{code: code, fn: fn}
}

func (h *eventHandlerFunc) Code() uint8 { return h.code }

func (h *eventHandlerFunc) Parse(code uint8, params []byte, d *Dump) Event {
	return h.fn(code, params, d)
}

// UnknownEvent 未知事件：只记录事件码
type UnknownEvent struct {
	EventHeader
}

// UnknownEventHandler 通配事件处理器，总是接受
type UnknownEventHandler struct{}

func (UnknownEventHandler) Code() uint8 { return hci.EventCodeWildcard }

func (UnknownEventHandler) Parse(code uint8, _ []byte, _ *Dump) Event {
	return &UnknownEvent{EventHeader: EventHeader{Code: code}}
}

func filterListener(h EventHandler, l EventListener) EventListener {
	if f, ok := h.(EventFilter); ok {
		if wrapped := f.Filter(l); wrapped != nil {
			return wrapped
		}
	}
	return l
}
