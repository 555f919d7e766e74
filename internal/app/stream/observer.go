package stream

import (
	"sync"
	"time"

	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
)

// Observer 用于把"会话进度/阶段/条目结果"从核心执行流程中解耦出来。
//
// 约束：
// - stream 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件来自 pipeline 的准备 goroutine 与播放循环。
type Observer interface {
	// OnStart 在 Session.Run 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在一次性阶段结束时调用（catalog / playlist）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在条目准备完成/失败、播放结束/跳过时调用。
	OnItemDone(res domain.ItemResult, dur time.Duration)
	// OnDownloadProgress 在下载过程中周期性调用。
	OnDownloadProgress(fileName string, done, total int64)
	// OnPlaying 在模拟器启动成功后调用。
	OnPlaying(g domain.PreparedGame)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                    {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (nopObserver) OnItemDone(domain.ItemResult, time.Duration)       {}
func (nopObserver) OnDownloadProgress(string, int64, int64)           {}
func (nopObserver) OnPlaying(domain.PreparedGame)                     {}

func orNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// recorder 收集 ItemResult 用于最终报告，同时把事件转发给下游 Observer。
type recorder struct {
	next Observer

	mu    sync.Mutex
	items []domain.ItemResult
}

func newRecorder(next Observer) *recorder {
	return &recorder{next: orNop(next)}
}

func (r *recorder) OnStart(eff config.EffectiveConfig) { r.next.OnStart(eff) }

func (r *recorder) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	r.next.OnPhaseDone(name, fields, dur)
}

func (r *recorder) OnItemDone(res domain.ItemResult, dur time.Duration) {
	r.mu.Lock()
	r.items = append(r.items, res)
	r.mu.Unlock()
	r.next.OnItemDone(res, dur)
}

func (r *recorder) OnDownloadProgress(fileName string, done, total int64) {
	r.next.OnDownloadProgress(fileName, done, total)
}

func (r *recorder) OnPlaying(g domain.PreparedGame) { r.next.OnPlaying(g) }

func (r *recorder) Items() []domain.ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ItemResult(nil), r.items...)
}
