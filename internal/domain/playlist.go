package domain

import "time"

// PlaylistRecord 是落盘的播放列表状态（整条记录覆盖写）。
//
// 不变量：0 <= Cursor <= len(ShuffledOrder)；Cursor 指向下一个未播放条目。
type PlaylistRecord struct {
	ShuffledOrder []string  `json:"shuffled_order"`
	Cursor        int       `json:"cursor"`
	CreatedAt     time.Time `json:"created_at"`
	LastPlayed    *string   `json:"last_played"`
}

// Clone 返回深拷贝，避免调用方持有内部切片。
func (r PlaylistRecord) Clone() PlaylistRecord {
	out := r
	out.ShuffledOrder = append([]string(nil), r.ShuffledOrder...)
	if r.LastPlayed != nil {
		v := *r.LastPlayed
		out.LastPlayed = &v
	}
	return out
}

// Equal 比较两条记录（时间按 Equal 语义比较）。
func (r PlaylistRecord) Equal(o PlaylistRecord) bool {
	if r.Cursor != o.Cursor || !r.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if len(r.ShuffledOrder) != len(o.ShuffledOrder) {
		return false
	}
	for i := range r.ShuffledOrder {
		if r.ShuffledOrder[i] != o.ShuffledOrder[i] {
			return false
		}
	}
	switch {
	case r.LastPlayed == nil && o.LastPlayed == nil:
		return true
	case r.LastPlayed == nil || o.LastPlayed == nil:
		return false
	default:
		return *r.LastPlayed == *o.LastPlayed
	}
}
