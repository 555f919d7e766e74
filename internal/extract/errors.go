package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/romstream/internal/scan"
)

var (
	// ErrNoPlayable 表示解压成功但目录中没有可玩文件（非异常放弃）。
	ErrNoPlayable = scan.ErrNoPlayable

	ErrMissingTool       = errors.New("找不到解压工具")
	ErrUnsupportedFormat = errors.New("不支持的归档格式")
)

// ExtractionError 表示解压失败：工具非零退出、工具缺失、格式不支持或归档损坏。
type ExtractionError struct {
	Archive  string
	Tool     string
	ExitCode int
	// Output 是工具的合并输出（截断）。
	Output string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "extraction error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "解压失败：%s", e.Archive)
	if e.Tool != "" {
		fmt.Fprintf(&b, " tool=%s", e.Tool)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exit=%d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "：%v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func IsExtractionError(err error) bool {
	var e *ExtractionError
	return errors.As(err, &e)
}
