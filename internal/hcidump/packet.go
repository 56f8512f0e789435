package hcidump

// Direction 数据包方向，由流中每个包前的标记字符决定
type Direction uint8

const (
	DirCommand Direction = iota + 1 // '<' host -> controller
	DirEvent                        // '>' controller -> host
)

const (
	markerCommand = '<'
	markerEvent   = '>'

	typeCommand = 0x01
	typeEvent   = 0x04
)

// Marker 流中的方向标记
func (d Direction) Marker() byte {
	if d == DirEvent {
		return markerEvent
	}
	return markerCommand
}

func (d Direction) String() string {
	switch d {
	case DirCommand:
		return "command"
	case DirEvent:
		return "event"
	default:
		return "unknown"
	}
}
