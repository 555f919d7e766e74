package stream

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/app/planner"
	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/extract"
	"github.com/John-Robertt/romstream/internal/infra/cache"
	"github.com/John-Robertt/romstream/internal/infra/fsx"
	"github.com/John-Robertt/romstream/internal/infra/httpx"
	"github.com/John-Robertt/romstream/internal/scan"
)

// Preparer 把一个目录条目变为可以直接启动的游戏。
type Preparer interface {
	Prepare(ctx context.Context, e domain.CatalogEntry) (domain.PreparedGame, error)
}

// Downloader 是 httpx.Session 的下载能力。
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string, progress httpx.ProgressFunc) (int64, error)
}

// Extractor 是 extract.Extractor 的解压能力。
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) (string, error)
}

// EntryPreparer 是默认 Preparer：缓存检查 → 下载到暂存 → 解压或移动 → 选出可玩文件。
type EntryPreparer struct {
	Store      cache.Store
	Profile    domain.SystemProfile
	Downloader Downloader
	Extractor  Extractor
	Logger     *zap.Logger
	// Progress 可选；下载进度回调。
	Progress func(fileName string, done, total int64)
}

// stageError 标记失败发生的阶段，用于生成 error_code。
type stageError struct {
	Stage string
	Err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s：%v", e.Stage, e.Err) }
func (e *stageError) Unwrap() error { return e.Err }

const (
	stagePlan     = "plan"
	stageDownload = "download"
	stageExtract  = "extract"
	stageMove     = "move"
	stageSelect   = "select"
)

func (p EntryPreparer) Prepare(ctx context.Context, e domain.CatalogEntry) (domain.PreparedGame, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("file", e.FileName))

	plan, err := planner.PlanEntry(p.Store, p.Profile, e)
	if err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stagePlan, Err: err}
	}
	g := domain.PreparedGame{
		FileName:     e.FileName,
		Title:        e.Title,
		ExtractedDir: plan.TitleDir,
	}
	if plan.CacheHit() {
		log.Debug("cache hit", zap.String("playable", plan.CachedPlayable))
		g.LocalPlayablePath = plan.CachedPlayable
		g.CacheHit = true
		return g, nil
	}

	if err := p.Store.Prepare(); err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stagePlan, Err: err}
	}

	var progress httpx.ProgressFunc
	if p.Progress != nil {
		progress = func(done, total int64) { p.Progress(e.FileName, done, total) }
	}
	if plan.StagedBytes > 0 {
		log.Info("resuming download", zap.Int64("offset", plan.StagedBytes))
	}
	n, err := p.Downloader.Download(ctx, e.URL, plan.StagingPath, progress)
	if err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stageDownload, Err: err}
	}
	log.Debug("download complete", zap.Int64("bytes", n))

	if plan.NeedExtract {
		playable, err := p.Extractor.Extract(ctx, plan.StagingPath, plan.TitleDir)
		if err != nil {
			if errors.Is(err, extract.ErrNoPlayable) {
				return domain.PreparedGame{}, &stageError{Stage: stageSelect, Err: err}
			}
			return domain.PreparedGame{}, &stageError{Stage: stageExtract, Err: err}
		}
		if err := p.Store.RemoveStaging(e); err != nil {
			log.Warn("remove staging failed", zap.Error(err))
		}
		g.LocalPlayablePath = playable
		return g, nil
	}

	if err := fsx.EnsureDir(plan.TitleDir); err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stageMove, Err: err}
	}
	if err := fsx.Move(plan.StagingPath, plan.RawTarget); err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stageMove, Err: err}
	}
	playable, err := scan.SelectPlayable(plan.TitleDir, p.Profile)
	if err != nil {
		return domain.PreparedGame{}, &stageError{Stage: stageSelect, Err: err}
	}
	g.LocalPlayablePath = playable
	return g, nil
}

// errorCode 把准备/播放错误映射为报告中的 error_code。
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case httpx.IsTooManyRedirects(err):
		return domain.ErrCodeTooManyRedirect
	case httpx.IsDownloadAuth(err):
		return domain.ErrCodeDownloadAuth
	case extract.IsExtractionError(err):
		return domain.ErrCodeExtraction
	case errors.Is(err, scan.ErrNoPlayable):
		return domain.ErrCodeNoPlayable
	case isLaunchError(err):
		return domain.ErrCodeLaunchFailed
	}
	var se *stageError
	if errors.As(err, &se) {
		switch se.Stage {
		case stageDownload:
			return domain.ErrCodeDownloadFailed
		case stageExtract:
			return domain.ErrCodeExtraction
		}
	}
	return domain.ErrCodeIOFailed
}
