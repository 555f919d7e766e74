package domain

// PreparedGame 是下载 + 解压完成、可以直接启动的游戏。
// 由 pipeline 产出，交给播放控制器后归其所有；目录本身作为缓存保留。
type PreparedGame struct {
	FileName          string
	Title             string
	LocalPlayablePath string
	ExtractedDir      string
	CacheHit          bool
}
