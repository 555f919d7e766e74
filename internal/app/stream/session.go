package stream

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
)

// CatalogLoader 是 catalog.Loader 的加载能力。
type CatalogLoader interface {
	Load(ctx context.Context, catalogURL string) ([]domain.CatalogEntry, error)
}

// PlaylistState 是会话需要的完整播放列表能力（playlist.State 实现它）。
type PlaylistState interface {
	Playlist
	Initialize(current []string, forceReset, resetProgressOnly bool) error
	Remaining() int
	Len() int
}

// Session 串起一次完整会话：目录 → 播放列表 → pipeline + 播放循环 → 报告。
type Session struct {
	Config config.EffectiveConfig
	RunID  string

	Catalog  CatalogLoader
	Playlist PlaylistState
	Preparer Preparer
	Launcher Launcher

	Logger   *zap.Logger
	Observer Observer

	// LookPath 用于启动前检查模拟器；为空时使用 exec.LookPath。
	LookPath func(string) (string, error)

	player Player
}

// Skip 结束当前游戏，进入下一个。
func (s *Session) Skip() {
	s.player.Skip()
}

// Run 执行会话直到 ctx 取消。
//
// 致命错误（返回 error）：模拟器不可执行、目录获取失败、播放列表无法初始化。
// 单个条目的失败只记录在报告中。
func (s *Session) Run(ctx context.Context) (domain.SessionReport, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", s.RunID))
	rec := newRecorder(s.Observer)
	eff := s.Config

	rr := domain.SessionReport{
		RunID:      s.RunID,
		CatalogURL: eff.CatalogURL,
		System:     eff.System.Name,
		GamesDir:   eff.GamesDir,
		StartedAt:  time.Now().UTC(),
	}
	finish := func() domain.SessionReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Items = rec.Items()
		rr.Finalize()
		return rr
	}

	rec.OnStart(eff)

	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(strings.TrimSpace(eff.Emulator)); err != nil {
		return finish(), fmt.Errorf("%w：%s（%v）", ErrEmulatorMissing, eff.Emulator, err)
	}

	catStarted := time.Now()
	entries, err := s.Catalog.Load(ctx, eff.CatalogURL)
	if err != nil {
		return finish(), err
	}
	rr.CatalogSize = len(entries)
	rec.OnPhaseDone("catalog", map[string]any{"entries": len(entries)}, time.Since(catStarted))

	plStarted := time.Now()
	if err := s.Playlist.Initialize(domain.FileNames(entries), eff.ForceReset, eff.ResetProgress); err != nil {
		return finish(), fmt.Errorf("初始化播放列表失败：%w", err)
	}
	rec.OnPhaseDone("playlist", map[string]any{
		"entries":   s.Playlist.Len(),
		"remaining": s.Playlist.Remaining(),
	}, time.Since(plStarted))

	if len(entries) == 0 {
		log.Warn("catalog is empty after filtering", zap.String("url", eff.CatalogURL))
		return finish(), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := NewHandoff()
	pipeline := &Pipeline{
		Playlist:  s.Playlist,
		Entries:   entries,
		Queue:     queue,
		Preparer:  s.Preparer,
		LookAhead: eff.LookAhead,
		Interval:  eff.PollInterval,
		Logger:    log.Named("pipeline"),
		Observer:  rec,
	}
	player := &s.player
	player.Queue = queue
	player.Launcher = s.Launcher
	player.PollInterval = eff.PollInterval
	player.GracePeriod = eff.GracePeriod
	player.Logger = log.Named("player")
	player.Observer = rec

	var wg sync.WaitGroup
	for _, run := range []func(context.Context) error{pipeline.Run, player.Run} {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			if err := run(ctx); err != nil {
				log.Error("session task failed", zap.Error(err))
			}
		}()
	}
	wg.Wait()

	log.Info("session finished")
	return finish(), nil
}
