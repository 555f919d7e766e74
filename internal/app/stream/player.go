package stream

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/domain"
)

const (
	DefaultGracePeriod = 5 * time.Second

	killWait = time.Second
)

// Player 是前台播放循环：从 Handoff 取游戏、启动模拟器、等待退出或停止请求。
type Player struct {
	Queue    *Handoff
	Launcher Launcher

	// PollInterval 是队列为空时的兜底轮询间隔（入队通知之外）。
	PollInterval time.Duration
	// GracePeriod 是请求优雅关闭后等待的时长，超时强制结束。
	GracePeriod time.Duration

	Logger   *zap.Logger
	Observer Observer

	skipOnce sync.Once
	skip     chan struct{}

	log *zap.Logger
	obs Observer
}

func (p *Player) skipCh() chan struct{} {
	p.skipOnce.Do(func() { p.skip = make(chan struct{}, 1) })
	return p.skip
}

// Skip 请求结束当前游戏并进入下一个；当前没有游戏时不产生效果。可在任意 goroutine 调用。
func (p *Player) Skip() {
	select {
	case p.skipCh() <- struct{}{}:
	default:
	}
}

// Run 运行直到 ctx 取消。
func (p *Player) Run(ctx context.Context) error {
	p.log = p.Logger
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.obs = orNop(p.Observer)
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultInterval
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = DefaultGracePeriod
	}
	skip := p.skipCh()

	for {
		if ctx.Err() != nil {
			return nil
		}
		g, ok := p.Queue.Pop()
		if !ok {
			t := time.NewTimer(p.PollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-p.Queue.Notify():
			case <-t.C:
			}
			t.Stop()
			continue
		}
		p.play(ctx, g, skip)
	}
}

func (p *Player) play(ctx context.Context, g domain.PreparedGame, skip chan struct{}) {
	log := p.log.With(zap.String("file", g.FileName))

	// 丢弃上一局遗留的跳过请求。
	select {
	case <-skip:
	default:
	}

	started := time.Now()
	proc, err := p.Launcher.Launch(ctx, g.LocalPlayablePath)
	if err != nil {
		if !isLaunchError(err) {
			err = &LaunchError{Path: g.LocalPlayablePath, Err: err}
		}
		log.Error("launch failed", zap.Error(err))
		p.obs.OnItemDone(domain.ItemResult{
			FileName:  g.FileName,
			Title:     g.Title,
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeLaunchFailed,
			ErrorMsg:  err.Error(),
		}, time.Since(started))
		return
	}
	log.Info("playing", zap.String("title", g.Title), zap.String("path", g.LocalPlayablePath))
	p.obs.OnPlaying(g)

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	status := domain.StatusPlayed
	select {
	case err := <-done:
		if err != nil {
			log.Info("emulator exited", zap.Error(err))
		}
	case <-skip:
		status = domain.StatusSkipped
		p.terminate(log, proc, done)
	case <-ctx.Done():
		p.terminate(log, proc, done)
	}

	p.obs.OnItemDone(domain.ItemResult{
		FileName: g.FileName,
		Title:    g.Title,
		Status:   status,
		CacheHit: g.CacheHit,
	}, time.Since(started))
}

// terminate 先请求优雅关闭，等待 GracePeriod，仍未退出则 Kill。
func (p *Player) terminate(log *zap.Logger, proc Process, done <-chan error) {
	signaled := false
	for _, sig := range gracefulSignals {
		if err := proc.Signal(sig); err != nil {
			log.Debug("signal failed", zap.Stringer("signal", sig), zap.Error(err))
			continue
		}
		signaled = true
		break
	}

	if signaled {
		t := time.NewTimer(p.GracePeriod)
		defer t.Stop()
		select {
		case <-done:
			log.Debug("emulator exited gracefully")
			return
		case <-t.C:
			log.Warn("grace period elapsed, killing emulator", zap.Duration("grace", p.GracePeriod))
		}
	}

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("kill emulator failed", zap.Error(err))
	}
	select {
	case <-done:
	case <-time.After(killWait):
		log.Warn("emulator did not exit after kill")
	}
}
