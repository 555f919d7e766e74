package domain

// CatalogEntry 是远端目录中的一个可下载条目。
//
// 约束：FileName 是唯一身份；Title 只用于展示，不参与任何比较。
type CatalogEntry struct {
	FileName     string
	URL          string
	SizeBytes    int64
	Title        string
	IsCompressed bool
}

// EntryIndex 按 FileName 建立 O(1) 查找表。
func EntryIndex(entries []CatalogEntry) map[string]CatalogEntry {
	m := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		m[e.FileName] = e
	}
	return m
}

// FileNames 按输入顺序返回所有条目的 FileName。
func FileNames(entries []CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.FileName)
	}
	return out
}
