package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/romstream/internal/app/stream"
	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
)

var (
	_ stream.Observer = (*progressUI)(nil)
	_ stream.Observer = (*plainUI)(nil)
)

// progressUI 是交互终端下的简洁进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 下载进度按文件节流：每个文件最多 progressInterval 输出一次
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time

	prepared int
	failed   int
	played   int

	progressInterval time.Duration
	downloads        map[string]downloadState
}

type downloadState struct {
	lastPrinted time.Time
	lastPct     int
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                w,
		progressInterval: 2 * time.Second,
		downloads:        make(map[string]downloadState),
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] romstream (%s)\n", now.Format("15:04:05"), eff.System.Name)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  catalog: %s\n", truncate(eff.CatalogURL, 120))
	fmt.Fprintf(p.w, "  games_dir: %s\n", eff.GamesDir)
	fmt.Fprintf(p.w, "  emulator: %s %s\n", eff.Emulator, strings.Join(eff.EmulatorArgs, " "))
	fmt.Fprintf(p.w, "  region: %s\n", orDash(eff.Region))
	fmt.Fprintf(p.w, "  look_ahead: %d\n", eff.LookAhead)
	fmt.Fprintf(p.w, "  rate_limit: %s\n", formatRate(eff.RateLimit))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	if eff.ConfigFound {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	switch {
	case eff.ForceReset:
		fmt.Fprintln(p.w, "  playlist: reset")
	case eff.ResetProgress:
		fmt.Fprintln(p.w, "  playlist: reset-progress")
	}
	fmt.Fprintln(p.w, "控制: n=下一个 q=结束")
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "catalog":
		fmt.Fprintf(p.w, "目录: entries=%d (%s)\n", intField(fields, "entries"), formatShortDuration(dur))
	case "playlist":
		fmt.Fprintf(p.w, "播放列表: entries=%d remaining=%d (%s)\n\n",
			intField(fields, "entries"), intField(fields, "remaining"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnItemDone(res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.downloads, res.FileName)
	name := displayName(res)

	switch res.Status {
	case domain.StatusPrepared:
		p.prepared++
		note := ""
		if res.CacheHit {
			note = " (缓存)"
		}
		fmt.Fprintf(p.w, "READY %s%s (%s)\n", name, note, formatShortDuration(dur))
	case domain.StatusFailed:
		p.failed++
		fmt.Fprintf(p.w, "FAIL  %s %s: %s (%s)\n",
			name, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusPlayed:
		p.played++
		fmt.Fprintf(p.w, "DONE  %s (%s)\n", name, formatElapsed(dur))
	case domain.StatusSkipped:
		p.played++
		if res.ErrorCode != "" {
			fmt.Fprintf(p.w, "SKIP  %s %s: %s\n", name, res.ErrorCode, truncate(res.ErrorMsg, 160))
		} else {
			fmt.Fprintf(p.w, "SKIP  %s (%s)\n", name, formatElapsed(dur))
		}
	default:
		fmt.Fprintf(p.w, "%s %s\n", strings.ToUpper(res.Status), name)
	}
}

func (p *progressUI) OnDownloadProgress(fileName string, done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	st := p.downloads[fileName]
	pct := -1
	if total > 0 {
		pct = int(done * 100 / total)
	}
	finished := total > 0 && done >= total
	if !finished && !st.lastPrinted.IsZero() && now.Sub(st.lastPrinted) < p.progressInterval {
		return
	}
	if finished && st.lastPct == 100 {
		return
	}

	if pct >= 0 {
		fmt.Fprintf(p.w, "下载: %s %s/%s (%d%%)\n", truncate(fileName, 80), formatBytes(done), formatBytes(total), pct)
	} else {
		fmt.Fprintf(p.w, "下载: %s %s\n", truncate(fileName, 80), formatBytes(done))
	}
	p.downloads[fileName] = downloadState{lastPrinted: now, lastPct: pct}
}

func (p *progressUI) OnPlaying(g domain.PreparedGame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	title := strings.TrimSpace(g.Title)
	if title == "" {
		title = g.FileName
	}
	fmt.Fprintf(p.w, "\n▶ [%s] %s\n  %s\n", time.Now().Format("15:04:05"), title, g.LocalPlayablePath)

	if len(p.downloads) > 0 {
		names := make([]string, 0, len(p.downloads))
		for n := range p.downloads {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintf(p.w, "  后台下载中: %s\n", truncate(strings.Join(names, ", "), 160))
	}
	fmt.Fprintf(p.w, "  进度: prepared=%d failed=%d played=%d elapsed=%s\n",
		p.prepared, p.failed, p.played, formatElapsed(time.Since(p.startedAt)),
	)
}

// plainUI 用于非交互运行：只把当前游戏标题逐行写到 stderr，其余事件留给日志与 JSON 报告。
type plainUI struct {
	mu sync.Mutex
	w  io.Writer
}

func newPlainUI(w io.Writer) *plainUI { return &plainUI{w: w} }

func (*plainUI) OnStart(config.EffectiveConfig)                    {}
func (*plainUI) OnPhaseDone(string, map[string]any, time.Duration) {}
func (*plainUI) OnItemDone(domain.ItemResult, time.Duration)       {}
func (*plainUI) OnDownloadProgress(string, int64, int64)           {}

func (p *plainUI) OnPlaying(g domain.PreparedGame) {
	title := strings.TrimSpace(g.Title)
	if title == "" {
		title = g.FileName
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "▶ %s\n", title)
}

func displayName(res domain.ItemResult) string {
	if t := strings.TrimSpace(res.Title); t != "" {
		return t
	}
	if res.FileName != "" {
		return res.FileName
	}
	return "<unknown>"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatRate(bytesPerSec int) string {
	if bytesPerSec <= 0 {
		return "off"
	}
	return formatBytes(int64(bytesPerSec)) + "/s"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
