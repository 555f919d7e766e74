package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrEmulatorMissing 表示配置的模拟器不可执行；对整个会话是致命错误。
var ErrEmulatorMissing = errors.New("找不到模拟器")

// RomPlaceholder 在参数模板中代表可玩文件路径。
const RomPlaceholder = "{rom}"

// Process 是一个已启动的模拟器进程。
type Process interface {
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher 启动模拟器。
type Launcher interface {
	Launch(ctx context.Context, playablePath string) (Process, error)
}

// LaunchError 表示模拟器启动失败（该条目跳过，会话继续）。
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("启动模拟器失败（%s）：%v", e.Path, e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

func isLaunchError(err error) bool {
	var e *LaunchError
	return errors.As(err, &e)
}

// ExecLauncher 以子进程方式启动模拟器：emulator [args...]。
// Args 中的 {rom} 替换为路径；没有占位符时路径作为最后一个参数追加。
type ExecLauncher struct {
	Emulator string
	Args     []string
	Logger   *zap.Logger
}

// BuildArgs 展开参数模板。
func BuildArgs(template []string, playablePath string) []string {
	out := make([]string, 0, len(template)+1)
	replaced := false
	for _, a := range template {
		if strings.Contains(a, RomPlaceholder) {
			a = strings.ReplaceAll(a, RomPlaceholder, playablePath)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, playablePath)
	}
	return out
}

// Resolve 检查模拟器是否可执行，返回解析后的路径。
func (l ExecLauncher) Resolve() (string, error) {
	p, err := exec.LookPath(strings.TrimSpace(l.Emulator))
	if err != nil {
		return "", fmt.Errorf("%w：%s（%v）", ErrEmulatorMissing, l.Emulator, err)
	}
	return p, nil
}

// Launch 不绑定 ctx：进程的结束由 Player 的优雅关闭流程负责。
func (l ExecLauncher) Launch(_ context.Context, playablePath string) (Process, error) {
	args := BuildArgs(l.Args, playablePath)
	cmd := exec.Command(l.Emulator, args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if l.Logger != nil {
		l.Logger.Debug("launch emulator", zap.String("emulator", l.Emulator), zap.Strings("args", args))
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: playablePath, Err: err}
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error                { return p.cmd.Wait() }
func (p execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p execProcess) Kill() error                { return p.cmd.Process.Kill() }
