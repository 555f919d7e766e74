package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/infra/fsx"
	"github.com/John-Robertt/romstream/internal/scan"
	"github.com/John-Robertt/romstream/internal/title"
)

const stagingDirName = ".staging"

// Store 描述 games 目录下的本地缓存布局：
//
//	<games>/<folder>-<hash>/...                每个条目一个目录（解压/原始文件）
//	<games>/.staging/<folder>-<hash><ext>.part 下载暂存（跨尝试保留，用于续传）
//	<games>/.romstream-<system>.json           播放列表状态
type Store struct {
	Root string
}

func New(root string) Store {
	return Store{Root: filepath.Clean(strings.TrimSpace(root))}
}

// TitleDir 返回条目的缓存目录。
func (s Store) TitleDir(e domain.CatalogEntry) string {
	return filepath.Join(s.Root, title.FolderName(e.FileName))
}

// StagingDir 返回下载暂存目录。
func (s Store) StagingDir() string {
	return filepath.Join(s.Root, stagingDirName)
}

// StagingPath 返回条目的下载暂存路径；不同 FileName 永远得到不同路径。
func (s Store) StagingPath(e domain.CatalogEntry) (string, error) {
	name := strings.TrimSpace(e.FileName)
	if base := filepath.Base(name); name == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("非法文件名：%q", e.FileName)
	}
	return filepath.Join(s.StagingDir(), title.StagingName(name)), nil
}

var systemNameRE = regexp.MustCompile(`^[a-z0-9_-]+$`)

// StatePath 返回某个子系统的播放列表状态文件路径。
func (s Store) StatePath(system string) (string, error) {
	system = strings.ToLower(strings.TrimSpace(system))
	if !systemNameRE.MatchString(system) {
		return "", fmt.Errorf("非法 system：%q", system)
	}
	return filepath.Join(s.Root, ".romstream-"+system+".json"), nil
}

// CachedPlayable 检查条目目录中是否已有可玩文件（缓存命中信号）。
// 目录不存在视为未命中且不报错。
func (s Store) CachedPlayable(e domain.CatalogEntry, profile domain.SystemProfile) (string, bool, error) {
	p, err := scan.SelectPlayable(s.TitleDir(e), profile)
	if err != nil {
		if errors.Is(err, scan.ErrNoPlayable) {
			return "", false, nil
		}
		return "", false, err
	}
	return p, true, nil
}

// Prepare 确保 games 根目录与暂存目录存在。
func (s Store) Prepare() error {
	if err := fsx.EnsureDir(s.Root); err != nil {
		return err
	}
	return fsx.EnsureDir(s.StagingDir())
}

// RemoveStaging 删除暂存文件（解压成功后调用）；不存在不报错。
func (s Store) RemoveStaging(e domain.CatalogEntry) error {
	p, err := s.StagingPath(e)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
