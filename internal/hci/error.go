package hci

import "strings"

// 状态码 -> 描述（仅收录常见项，其余为 Unknown）
var errorTexts = map[string]string{
	"NA": "No response",
	"01": "Unknown HCI Command",
	"02": "Unknown Connection Identifier",
	"0C": "Command Disallowed",
	"11": "Unsupported Feature or Parameter Value",
	"12": "Invalid HCI Command Parameters",
}

// Error HCI 命令状态错误
type Error struct {
	Code string
	Text string
}

// NewError 按状态码构造错误；空码记为 UN
func NewError(code string) *Error {
	code = strings.ToUpper(code)
	if code == "" {
		code = "UN"
	}
	text, ok := errorTexts[code]
	if !ok {
		text = "Unknown"
	}
	return &Error{Code: code, Text: text}
}

func (e *Error) Error() string {
	return e.Code + " " + e.Text
}
