package httpx

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// Transport 把“UA 池 + 浏览器风格请求头 + Referer 推断 + keep-alive 策略”固化为统一策略。
//
// 重试不在这里做：重试语义（鉴权失败重建会话、断点续传）属于 Session。
type Transport struct {
	Base *http.Transport

	ua *uaPool

	// UserAgent 非空时固定使用该 UA，否则每个请求从 UA 池随机选择。
	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		if t.UserAgent != "" {
			r.Header.Set("User-Agent", t.UserAgent)
		} else if t.ua != nil {
			r.Header.Set("User-Agent", t.ua.random())
		}
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "*/*")
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	// 部分镜像站会校验 Referer：缺省时用父目录推断。
	if r.Header.Get("Referer") == "" {
		if ref := InferReferer(r.URL); ref != "" {
			r.Header.Set("Referer", ref)
		}
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

// InferReferer 返回 URL 父目录（带结尾 '/'）；无法推断时返回空串。
func InferReferer(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	dir := path.Dir(u.EscapedPath())
	if dir == "." || dir == "/" || dir == "" {
		return fmt.Sprintf("%s://%s/", u.Scheme, u.Host)
	}
	return fmt.Sprintf("%s://%s%s/", u.Scheme, u.Host, dir)
}

func newTransport(proxyURL, userAgent string) (*Transport, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		WriteBufferSize:       bufferSize,
		ReadBufferSize:        bufferSize,
		// 二进制大文件：关闭透明解压，Content-Length 与 Range 偏移才对得上。
		DisableCompression: true,
	}

	disableKeepAlives := false
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	return &Transport{
		Base:              base,
		ua:                globalUA,
		UserAgent:         strings.TrimSpace(userAgent),
		DisableKeepAlives: disableKeepAlives,
	}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
