package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/domain"
)

const (
	DefaultLookAhead = 2
	DefaultInterval  = 500 * time.Millisecond
)

// Playlist 是 pipeline 需要的播放列表能力（playlist.State 实现它）。
type Playlist interface {
	GetNext() (string, bool, error)
	Reshuffle(current []string) error
}

// Pipeline 是后台准备循环：保持 ready + preparing <= LookAhead。
//
// 每轮迭代：
//  1. 已达上限：什么都不做
//  2. 从播放列表取下一个条目（耗尽时重新洗牌）
//  3. 在 Handoff 中登记准备中（已在准备/已排队则跳过）
//  4. 启动一次准备尝试；成功入队，失败放弃（不做本轮重试）
//
// 每轮结束固定等待 Interval，避免空转。
type Pipeline struct {
	Playlist Playlist
	Entries  []domain.CatalogEntry
	Queue    *Handoff
	Preparer Preparer

	LookAhead int
	Interval  time.Duration

	Logger   *zap.Logger
	Observer Observer

	once  sync.Once
	index map[string]domain.CatalogEntry
	names []string
	log   *zap.Logger
	obs   Observer
}

func (p *Pipeline) init() {
	p.once.Do(func() {
		p.index = domain.EntryIndex(p.Entries)
		p.names = domain.FileNames(p.Entries)
		p.log = p.Logger
		if p.log == nil {
			p.log = zap.NewNop()
		}
		p.obs = orNop(p.Observer)
		if p.LookAhead < 1 {
			p.LookAhead = DefaultLookAhead
		}
		if p.Interval <= 0 {
			p.Interval = DefaultInterval
		}
	})
}

// Run 运行直到 ctx 取消；返回前等待所有准备尝试结束。
func (p *Pipeline) Run(ctx context.Context) error {
	p.init()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.step(ctx, &wg)
		if err := sleepCtx(ctx, p.Interval); err != nil {
			return nil
		}
	}
}

func (p *Pipeline) step(ctx context.Context, wg *sync.WaitGroup) {
	if len(p.index) == 0 {
		return
	}
	if p.Queue.Buffered() >= p.LookAhead {
		return
	}

	name, ok, err := p.Playlist.GetNext()
	if err != nil {
		p.log.Warn("persist playlist failed", zap.Error(err))
	}
	if !ok {
		if err := p.Playlist.Reshuffle(p.names); err != nil {
			p.log.Warn("reshuffle playlist failed", zap.Error(err))
		}
		p.log.Info("playlist exhausted, reshuffled", zap.Int("entries", len(p.names)))
		return
	}

	e, found := p.index[name]
	if !found {
		p.log.Warn("playlist entry not in catalog", zap.String("file", name))
		return
	}
	if !p.Queue.Begin(name) {
		p.log.Debug("already buffered, skipped", zap.String("file", name))
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.prepare(ctx, e)
	}()
}

func (p *Pipeline) prepare(ctx context.Context, e domain.CatalogEntry) {
	started := time.Now()
	g, err := p.Preparer.Prepare(ctx, e)
	dur := time.Since(started)
	if err != nil {
		p.Queue.Abandon(e.FileName)
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			p.log.Debug("preparation canceled", zap.String("file", e.FileName))
			return
		}
		code := errorCode(err)
		p.log.Warn("preparation failed",
			zap.String("file", e.FileName),
			zap.String("error_code", code),
			zap.Error(err),
		)
		p.obs.OnItemDone(domain.ItemResult{
			FileName:  e.FileName,
			Title:     e.Title,
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}, dur)
		return
	}

	if g.Title == "" {
		g.Title = e.Title
	}
	p.Queue.Complete(g)
	p.log.Info("prepared",
		zap.String("file", e.FileName),
		zap.String("playable", g.LocalPlayablePath),
		zap.Bool("cache_hit", g.CacheHit),
		zap.Duration("took", dur),
	)
	p.obs.OnItemDone(domain.ItemResult{
		FileName: e.FileName,
		Title:    g.Title,
		Status:   domain.StatusPrepared,
		CacheHit: g.CacheHit,
	}, dur)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
