package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/infra/cache"
	"github.com/John-Robertt/romstream/internal/infra/fsx"
)

// PlanEntry 基于缓存现状生成条目的准备计划（只读：Stat/ReadDir，不做写入/移动）。
//
// - 条目目录中已有可玩文件：缓存命中，不下载不解压
// - 否则需要下载；压缩条目还需要解压
func PlanEntry(store cache.Store, profile domain.SystemProfile, e domain.CatalogEntry) (domain.PreparePlan, error) {
	name := strings.TrimSpace(e.FileName)
	if name == "" {
		return domain.PreparePlan{}, fmt.Errorf("条目缺少文件名")
	}

	plan := domain.PreparePlan{
		Entry:    e,
		TitleDir: store.TitleDir(e),
	}

	playable, hit, err := store.CachedPlayable(e, profile)
	if err != nil {
		return domain.PreparePlan{}, err
	}
	if hit {
		plan.CachedPlayable = playable
		return plan, nil
	}

	staging, err := store.StagingPath(e)
	if err != nil {
		return domain.PreparePlan{}, err
	}
	staged, err := fsx.FileSize(staging)
	if err != nil {
		return domain.PreparePlan{}, err
	}

	plan.StagingPath = staging
	plan.StagedBytes = staged
	plan.NeedDownload = true
	plan.NeedExtract = e.IsCompressed
	if !e.IsCompressed {
		plan.RawTarget = filepath.Join(plan.TitleDir, filepath.Base(name))
	}
	return plan, nil
}
