package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// HTTPStatusError 表示站点返回了非预期的 HTTP 状态码（不重试）。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// TooManyRedirectsError 表示重定向跳数超过上限。
type TooManyRedirectsError struct {
	URL  string
	Hops int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("重定向次数超过上限（%d）：%s", e.Hops, e.URL)
}

func IsTooManyRedirects(err error) bool {
	var e *TooManyRedirectsError
	return errors.As(err, &e)
}

// DownloadAuthError 表示鉴权失败（401/403）且重建会话后仍失败，重试预算已耗尽。
type DownloadAuthError struct {
	URL        string
	StatusCode int
	Attempts   int
}

func (e *DownloadAuthError) Error() string {
	return fmt.Sprintf("下载鉴权失败 HTTP %d（已尝试 %d 次）：%s", e.StatusCode, e.Attempts, e.URL)
}

func IsDownloadAuth(err error) bool {
	var e *DownloadAuthError
	return errors.As(err, &e)
}

// authFailure 是单次尝试内的鉴权失败，由重试循环消化。
type authFailure struct {
	statusCode int
}

func (e *authFailure) Error() string { return fmt.Sprintf("HTTP %d（鉴权失败）", e.statusCode) }

// transientError 标记可重试的网络类错误。
type transientError struct {
	Err error
}

func (e *transientError) Error() string { return e.Err.Error() }
func (e *transientError) Unwrap() error { return e.Err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{Err: err}
}

// IsTransient 判断 err 是否属于可重试的瞬时网络错误。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// 调用方主动取消不重试。
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
