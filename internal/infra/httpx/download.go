package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/infra/fsx"
)

// ProgressFunc 在下载过程中被调用：done 是本地文件当前字节数，total<0 表示未知。
type ProgressFunc func(done, total int64)

// Download 把 rawURL 下载到 dst，并支持断点续传。
//
// 规则：
// - dst 已有 N 字节：请求 Range: bytes=N-
// - 206：追加写；200：服务器忽略了 Range，截断后从 0 重写（绝不盲目追加整份 body）
// - 401/403：Reset 会话后重试；预算耗尽返回 *DownloadAuthError
// - 瞬时网络错误：同一预算内重试，已写入的字节保留给下一次续传
// - 其它非 2xx：*HTTPStatusError，不重试
// - 退避：第 n 次失败后等待 n × Backoff
//
// 返回最终文件大小。
func (s *Session) Download(ctx context.Context, rawURL, dst string, progress ProgressFunc) (int64, error) {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * s.Backoff
			if err := s.sleep(ctx, wait); err != nil {
				return 0, err
			}
		}

		n, err := s.downloadOnce(ctx, rawURL, dst, progress)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		var af *authFailure
		switch {
		case errors.As(err, &af):
			s.log.Warn("download auth failed, resetting session",
				zap.String("url", rawURL), zap.Int("status", af.statusCode), zap.Int("attempt", attempt))
			if rerr := s.Reset(); rerr != nil {
				return 0, rerr
			}
			lastErr = err
		case IsTransient(err):
			s.log.Warn("download transient error",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
		default:
			return 0, err
		}
	}

	var af *authFailure
	if errors.As(lastErr, &af) {
		return 0, &DownloadAuthError{URL: rawURL, StatusCode: af.statusCode, Attempts: attempts}
	}
	return 0, fmt.Errorf("下载失败（已尝试 %d 次）：%w", attempts, lastErr)
}

func (s *Session) downloadOnce(ctx context.Context, rawURL, dst string, progress ProgressFunc) (int64, error) {
	have, err := fsx.FileSize(dst)
	if err != nil {
		return 0, err
	}

	var header http.Header
	if have > 0 {
		header = http.Header{}
		header.Set("Range", fmt.Sprintf("bytes=%d-", have))
	}

	resp, final, err := s.Get(ctx, rawURL, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var (
		flag  = os.O_CREATE | os.O_WRONLY
		total int64
	)
	switch resp.StatusCode {
	case http.StatusOK:
		// 服务器忽略了 Range（或本地本来就是空文件）：从 0 重写。
		if have > 0 {
			s.log.Info("server ignored range request, restarting from zero",
				zap.String("url", final), zap.Int64("had", have))
		}
		flag |= os.O_TRUNC
		have = 0
		total = resp.ContentLength
	case http.StatusPartialContent:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && start != have {
			// 偏移对不上：截断本地文件，下一次尝试走完整下载。
			_ = os.Truncate(dst, 0)
			return 0, transient(errRangeMismatch)
		}
		flag |= os.O_APPEND
		total = size
		if total < 0 && resp.ContentLength >= 0 {
			total = have + resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		_, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if have > 0 && ok && size == have {
			// 本地已是完整文件。
			return have, nil
		}
		_ = os.Truncate(dst, 0)
		return 0, transient(fmt.Errorf("HTTP 416，本地偏移 %d 无效", have))
	case http.StatusUnauthorized, http.StatusForbidden:
		return 0, &authFailure{statusCode: resp.StatusCode}
	default:
		return 0, &HTTPStatusError{URL: final, StatusCode: resp.StatusCode}
	}

	f, err := os.OpenFile(dst, flag, 0o644)
	if err != nil {
		return 0, err
	}
	n, copyErr := s.copyBody(ctx, f, resp.Body, have, total, resp.ContentLength, progress)
	if cerr := f.Close(); cerr != nil && copyErr == nil {
		copyErr = cerr
	}
	if copyErr != nil {
		return 0, copyErr
	}
	return have + n, nil
}

// copyBody 以 1MiB 缓冲拷贝 body；每次读取前检查 ctx，读取失败时先落盘已读字节再返回。
func (s *Session) copyBody(ctx context.Context, f *os.File, body io.Reader, have, total, bodyLen int64, progress ProgressFunc) (int64, error) {
	w := bufio.NewWriterSize(f, bufferSize)
	buf := make([]byte, bufferSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			_ = w.Flush()
			return written, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if s.limiter != nil {
				if err := s.limiter.WaitN(ctx, n); err != nil {
					_ = w.Flush()
					return written, err
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if progress != nil {
				progress(have+written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ferr := w.Flush(); ferr != nil {
				return written, ferr
			}
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, transient(rerr)
		}
	}

	if err := w.Flush(); err != nil {
		return written, err
	}
	if bodyLen >= 0 && written < bodyLen {
		return written, transient(io.ErrUnexpectedEOF)
	}
	return written, nil
}

// parseContentRange 解析 "bytes 100-199/1000" 或 "bytes */1000"。
// size<0 表示总长度未知（"/*"）。
func parseContentRange(v string) (start, size int64, ok bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, -1, false
	}
	v = strings.TrimSpace(strings.TrimPrefix(v, "bytes "))
	rng, sz, found := strings.Cut(v, "/")
	if !found {
		return 0, -1, false
	}

	size = -1
	if sz != "*" {
		n, err := strconv.ParseInt(sz, 10, 64)
		if err != nil {
			return 0, -1, false
		}
		size = n
	}

	if rng == "*" {
		return 0, size, true
	}
	a, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, -1, false
	}
	n, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, -1, false
	}
	return n, size, true
}
