package domain

import "strings"

// SystemProfile 是一个流式子系统（某个主机平台）的能力描述。
// 各平台的差异（归档规则、可玩文件优先级、模拟器参数形态）都收敛在这里，pipeline 只有一份。
type SystemProfile struct {
	Name string

	// ArchiveExts 是需要解压的归档扩展名（小写，含 '.'）。
	ArchiveExts []string
	// PlayableExts 按优先级排列：越靠前越优先（自描述/压缩容器在前，裸轨道文件在后）。
	PlayableExts []string
	// CatalogExts 是目录加载时保留的扩展名；为空时使用 ArchiveExts ∪ PlayableExts。
	CatalogExts []string

	// EmulatorArgs 是模拟器参数模板（shell 风格），{rom} 会被替换为可玩文件路径；
	// 不含 {rom} 时路径作为最后一个参数追加。
	EmulatorArgs string
}

// IsArchive 判断扩展名是否需要解压。
func (p SystemProfile) IsArchive(ext string) bool {
	return containsExt(p.ArchiveExts, ext)
}

// IsPlayable 判断扩展名是否是可玩文件。
func (p SystemProfile) IsPlayable(ext string) bool {
	return containsExt(p.PlayableExts, ext)
}

// PlayableRank 返回扩展名在优先级列表中的位置；不可玩返回 -1。
func (p SystemProfile) PlayableRank(ext string) int {
	ext = strings.ToLower(ext)
	for i, e := range p.PlayableExts {
		if e == ext {
			return i
		}
	}
	return -1
}

// AcceptsInCatalog 判断目录条目扩展名是否属于该平台。
func (p SystemProfile) AcceptsInCatalog(ext string) bool {
	if len(p.CatalogExts) > 0 {
		return containsExt(p.CatalogExts, ext)
	}
	return p.IsArchive(ext) || p.IsPlayable(ext)
}

func containsExt(list []string, ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range list {
		if e == ext {
			return true
		}
	}
	return false
}
