package domain

// PreparePlan 是对某个条目的最小准备计划（只描述要做什么，不做任何 I/O）。
type PreparePlan struct {
	Entry CatalogEntry

	// TitleDir 是该条目的缓存目录（<games>/<sanitized title>-<hash>）。
	TitleDir string
	// StagingPath 是下载暂存路径（跨尝试保留，用于断点续传）。
	StagingPath string
	// StagedBytes 是暂存文件已有的字节数（>0 表示将以 Range 续传）。
	StagedBytes int64
	// RawTarget 是非压缩条目下载完成后移动到的位置。
	RawTarget string

	// CachedPlayable 非空表示缓存命中：跳过下载与解压。
	CachedPlayable string

	NeedDownload bool
	NeedExtract  bool
}

// CacheHit 报告该计划是否命中缓存。
func (p PreparePlan) CacheHit() bool { return p.CachedPlayable != "" }
