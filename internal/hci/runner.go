package hci

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// ErrCommandFailed 外部工具非零退出
var ErrCommandFailed = errors.New("command failed")

// Runner 执行外部控制工具，返回合并后的输出行
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]string, error)
}

// ExecRunner 基于 os/exec 的实现；失败时逐行记录输出
type ExecRunner struct {
	Logger *zap.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]string, error) {
	//nolint:gosec // 调用 hciconfig/hcitool/bt-adapter 是本工具的用途
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	lines := splitLines(out)
	if err != nil {
		if r.Logger != nil {
			for _, line := range lines {
				r.Logger.Error(line, zap.String("component", "cmd"), zap.String("bin", name))
			}
		}
		return lines, fmt.Errorf("%w: %s: %v", ErrCommandFailed, name, err)
	}
	return lines, nil
}

func splitLines(b []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
