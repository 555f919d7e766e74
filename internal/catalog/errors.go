package catalog

import (
	"errors"
	"fmt"
)

// FetchError 表示目录无法获取或无法解析；对整个会话是致命错误。
type FetchError struct {
	URL string
	Op  string // fetch / parse
	Err error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "catalog fetch error"
	}
	return fmt.Sprintf("目录%s失败（%s）：%v", opText(e.Op), e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func IsFetchError(err error) bool {
	var e *FetchError
	return errors.As(err, &e)
}

func opText(op string) string {
	switch op {
	case "parse":
		return "解析"
	default:
		return "获取"
	}
}
