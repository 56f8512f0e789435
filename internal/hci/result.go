package hci

// NoStatus 表示返回数据中没有状态字节
const NoStatus = -1

// CommandResult hcitool cmd 的同步返回
// Ret 为状态字节之后的返回参数（十六进制文本）
type CommandResult struct {
	OK  bool
	OGF string
	OCF string
	Ret string
	Err *Error
}

// ParseCommandResult 解析 Command Complete 事件参数
// 布局：ncmd(2) | opcode(4) | ... | status(2, 位于 6+statusByte) | ret
func ParseCommandResult(ret string, statusByte int) CommandResult {
	var res CommandResult
	if ret == "" {
		res.Err = NewError("NA")
		return res
	}

	res.OGF, res.OCF, _ = HexOpcodeToOgfOcf(substr(ret, 2, 4))

	sts := "00"
	if statusByte != NoStatus {
		sts = substr(ret, 6+statusByte, 2)
		res.Ret = substr(ret, 8+statusByte, len(ret))
	}
	res.OK = sts == "00"
	if !res.OK {
		res.Err = NewError(sts)
	}
	return res
}

func substr(s string, off, n int) string {
	if off >= len(s) || off < 0 {
		return ""
	}
	end := off + n
	if end > len(s) {
		end = len(s)
	}
	return s[off:end]
}
