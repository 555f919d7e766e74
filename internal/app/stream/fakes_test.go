package stream

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
)

type recordObserver struct {
	mu      sync.Mutex
	starts  int
	phases  []string
	items   []domain.ItemResult
	playing []string

	itemCh chan domain.ItemResult
}

func newRecordObserver() *recordObserver {
	return &recordObserver{itemCh: make(chan domain.ItemResult, 256)}
}

func (o *recordObserver) OnStart(config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *recordObserver) OnPhaseDone(name string, _ map[string]any, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemDone(res domain.ItemResult, _ time.Duration) {
	o.mu.Lock()
	o.items = append(o.items, res)
	o.mu.Unlock()
	select {
	case o.itemCh <- res:
	default:
	}
}

func (o *recordObserver) OnDownloadProgress(string, int64, int64) {}

func (o *recordObserver) OnPlaying(g domain.PreparedGame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = append(o.playing, g.FileName)
}

func (o *recordObserver) Items() []domain.ItemResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ItemResult(nil), o.items...)
}

func (o *recordObserver) count(status string) int {
	n := 0
	for _, it := range o.Items() {
		if it.Status == status {
			n++
		}
	}
	return n
}

// fakePreparer 模拟慢速下载；fail 中的条目总是失败。
type fakePreparer struct {
	delay time.Duration
	fail  map[string]error

	mu     sync.Mutex
	calls  map[string]int
	active int
	peak   int
}

func (p *fakePreparer) Prepare(ctx context.Context, e domain.CatalogEntry) (domain.PreparedGame, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[e.FileName]++
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.PreparedGame{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := p.fail[e.FileName]; err != nil {
		return domain.PreparedGame{}, err
	}
	return domain.PreparedGame{
		FileName:          e.FileName,
		Title:             e.Title,
		LocalPlayablePath: "/games/" + e.FileName,
	}, nil
}

func (p *fakePreparer) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

type fakeProcess struct {
	ignoreSignal bool

	exit chan error
	once sync.Once

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan error, 1)}
}

func (p *fakeProcess) finish(err error) {
	p.once.Do(func() { p.exit <- err })
}

func (p *fakeProcess) Wait() error { return <-p.exit }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if !p.ignoreSignal {
		p.finish(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(errors.New("killed"))
	return nil
}

func (p *fakeProcess) state() (signals int, killed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals), p.killed
}

// fakeLauncher 为每次启动调用 next；next 为空时进程立刻正常退出。
type fakeLauncher struct {
	next func(path string) (Process, error)

	mu       sync.Mutex
	launched []string
}

func (l *fakeLauncher) Launch(_ context.Context, path string) (Process, error) {
	l.mu.Lock()
	l.launched = append(l.launched, path)
	l.mu.Unlock()
	if l.next != nil {
		return l.next(path)
	}
	p := newFakeProcess()
	p.finish(nil)
	return p, nil
}

func (l *fakeLauncher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

func entries(names ...string) []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(names))
	for _, n := range names {
		out = append(out, domain.CatalogEntry{FileName: n, Title: n, URL: "https://example.com/" + n})
	}
	return out
}

func waitFor(ch <-chan domain.ItemResult, timeout time.Duration, match func(domain.ItemResult) bool) bool {
	deadline := time.After(timeout)
	for {
		select {
		case res := <-ch:
			if match(res) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
