package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxRedirects 是手动重定向的跳数上限。
	DefaultMaxRedirects = 10
	// DefaultMaxAttempts 是鉴权失败/瞬时网络错误共用的尝试预算（含首次）。
	DefaultMaxAttempts = 3
	// DefaultBackoff 是线性退避的步长：第 n 次失败后等待 n × DefaultBackoff。
	DefaultBackoff = time.Second

	bufferSize = 1 << 20
)

// Options 是 Session 的构造参数。
type Options struct {
	ProxyURL  string
	UserAgent string
	// RateLimit 是下载限速（字节/秒）；<=0 表示不限速。
	RateLimit int
	Logger    *zap.Logger
}

// Session 是带 cookie 持久化的 HTTP 会话。
//
// - 重定向手动遍历（跳数有上限），cookie 在跳转之间与调用之间都通过 jar 传递
// - Reset 会丢弃 jar，相当于重新握手
// - 并发安全：多个 goroutine 可共享同一个 Session
type Session struct {
	MaxRedirects int
	MaxAttempts  int
	Backoff      time.Duration

	log     *zap.Logger
	limiter *rate.Limiter
	tr      http.RoundTripper

	// sleep 可替换，测试用它跳过退避等待。
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	client *http.Client
	resets int
}

// NewSession 构造 Session。
func NewSession(opts Options) (*Session, error) {
	tr, err := newTransport(opts.ProxyURL, opts.UserAgent)
	if err != nil {
		return nil, err
	}
	return newSessionWithTransport(tr, opts)
}

func newSessionWithTransport(tr http.RoundTripper, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		MaxRedirects: DefaultMaxRedirects,
		MaxAttempts:  DefaultMaxAttempts,
		Backoff:      DefaultBackoff,
		log:          log,
		tr:           tr,
		sleep:        sleepCtx,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateLimit
		if burst < bufferSize {
			// WaitN 要求 n <= burst；单次读取最多 bufferSize。
			burst = bufferSize
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	s.resets = 0
	return s, nil
}

// Reset 丢弃当前 cookie jar 并建立新的 client（会话失效后重新握手）。
func (s *Session) Reset() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	c := &http.Client{
		Transport: s.tr,
		Jar:       jar,
		// 重定向由 Get 手动遍历：需要统计跳数，并在 Range 请求跨跳时保持请求头。
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	s.mu.Lock()
	s.client = c
	s.resets++
	s.mu.Unlock()
	return nil
}

// Resets 返回 Reset 被调用的次数（不含构造时的首次初始化）。
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *Session) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Get 发起 GET 并手动跟随重定向。返回最终响应与最终 URL。
//
// 调用方负责关闭 resp.Body。header 会复制到每一跳请求上。
func (s *Session) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, string, error) {
	cur, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", err
	}
	c := s.httpClient()

	max := s.MaxRedirects
	if max < 0 {
		max = 0
	}

	for hops := 0; ; hops++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cur.String(), nil)
		if err != nil {
			return nil, "", err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", transient(err)
		}

		if !isRedirect(resp.StatusCode) {
			return resp, cur.String(), nil
		}

		loc := strings.TrimSpace(resp.Header.Get("Location"))
		drainClose(resp.Body)
		if loc == "" {
			return nil, "", &HTTPStatusError{URL: cur.String(), StatusCode: resp.StatusCode}
		}
		if hops >= max {
			return nil, "", &TooManyRedirectsError{URL: rawURL, Hops: max}
		}
		next, err := cur.Parse(loc)
		if err != nil {
			return nil, "", &HTTPStatusError{URL: cur.String(), StatusCode: resp.StatusCode, Location: loc}
		}
		s.log.Debug("follow redirect", zap.String("from", cur.String()), zap.String("to", next.String()), zap.Int("hop", hops+1))
		cur = next
	}
}

// GetBytes 读取小型文档（目录索引/元数据），非 2xx 返回 *HTTPStatusError。
//
// 瞬时网络错误按 Download 相同的预算与线性退避重试；HTTP 状态错误不重试。
func (s *Session) GetBytes(ctx context.Context, rawURL string) ([]byte, string, error) {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * s.Backoff
			if err := s.sleep(ctx, wait); err != nil {
				return nil, "", err
			}
		}

		b, final, err := s.getBytesOnce(ctx, rawURL)
		if err == nil {
			return b, final, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if !IsTransient(err) {
			return nil, final, err
		}
		s.log.Warn("get transient error",
			zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
		lastErr = err
	}
	return nil, "", fmt.Errorf("读取失败（已尝试 %d 次）：%w", attempts, lastErr)
}

func (s *Session) getBytesOnce(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, final, err := s.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, final, &HTTPStatusError{URL: final, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, final, transient(err)
	}
	return b, final, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func drainClose(rc io.ReadCloser) {
	// 小量 drain 以便连接复用；超大 body 直接关闭即可。
	_, _ = io.CopyN(io.Discard, rc, 64<<10)
	_ = rc.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errRangeMismatch = errors.New("服务器返回的 Content-Range 与本地偏移不一致")
