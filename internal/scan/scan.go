package scan

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/romstream/internal/domain"
)

// ErrNoPlayable 表示目录下没有可识别的可玩文件（非异常放弃）。
var ErrNoPlayable = errors.New("未找到可玩文件")

// File 是目录中的一个候选文件。
type File struct {
	AbsPath string
	RelPath string
	Ext     string
	Size    int64
}

// 解压产物中常见的非游戏文件：辅助程序、动态库、说明/图片。
var ignoredExts = map[string]struct{}{
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".bat": {}, ".sh": {},
	".txt": {}, ".nfo": {}, ".diz": {}, ".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {},
	".part": {}, ".tmp": {},
}

// IsArtifact 判断文件是否是非游戏产物（辅助程序/动态库/模拟器核心插件）。
func IsArtifact(name string) bool {
	low := strings.ToLower(filepath.Base(name))
	if strings.HasPrefix(low, ".") {
		return true
	}
	if _, ok := ignoredExts[filepath.Ext(low)]; ok {
		return true
	}
	// libretro 核心：xxx_libretro.so / xxx_libretro.dll / xxx_libretro_android.so
	return strings.Contains(low, "_libretro")
}

// ListFiles 递归列出 dir 下的常规文件（已过滤非游戏产物），按相对路径稳定排序。
// dir 不存在时返回空结果且不报错。
func ListFiles(dir string) ([]File, error) {
	dir = filepath.Clean(dir)
	files := make([]File, 0, 8)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir && errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() || IsArtifact(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			AbsPath: path,
			RelPath: rel,
			Ext:     strings.ToLower(filepath.Ext(d.Name())),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// SelectPlayable 按平台优先级从 dir 中选出唯一的最佳可玩文件。
//
// 规则：
// - 优先级列表中越靠前越优先
// - 同优先级：路径层级浅的优先，其次相对路径字典序
// - 没有任何可玩文件：返回 ErrNoPlayable
func SelectPlayable(dir string, profile domain.SystemProfile) (string, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return "", err
	}

	best := -1
	bestRank := 0
	for i := range files {
		rank := profile.PlayableRank(files[i].Ext)
		if rank < 0 {
			continue
		}
		if best < 0 || better(rank, files[i], bestRank, files[best]) {
			best = i
			bestRank = rank
		}
	}
	if best < 0 {
		return "", ErrNoPlayable
	}
	return files[best].AbsPath, nil
}

func better(rank int, f File, bestRank int, b File) bool {
	if rank != bestRank {
		return rank < bestRank
	}
	da := strings.Count(f.RelPath, string(filepath.Separator))
	db := strings.Count(b.RelPath, string(filepath.Separator))
	if da != db {
		return da < db
	}
	return f.RelPath < b.RelPath
}
