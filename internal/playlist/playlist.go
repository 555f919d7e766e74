package playlist

import (
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/infra/fsx"
)

// ShuffleFunc 与 rand.Shuffle 同签名。
type ShuffleFunc func(n int, swap func(i, j int))

type Options struct {
	// Path 是状态文件路径（整文件原子覆盖写）。
	Path string
	// Rand 为空时使用按时间播种的随机源；Shuffle 非空时优先于 Rand。
	Rand    *rand.Rand
	Shuffle ShuffleFunc
	Now     func() time.Time
	Logger  *zap.Logger
}

// State 是持久化的洗牌播放列表。所有方法并发安全（pipeline 与 CLI 共享同一实例）。
//
// 不变量：
// - 0 <= cursor <= len(order)
// - 每次 GetNext 都立刻落盘
// - Initialize 在状态未变化时不写盘
type State struct {
	mu      sync.Mutex
	path    string
	shuffle ShuffleFunc
	now     func() time.Time
	log     *zap.Logger

	rec domain.PlaylistRecord
}

func New(opts Options) *State {
	s := &State{
		path:    opts.Path,
		shuffle: opts.Shuffle,
		now:     opts.Now,
		log:     opts.Logger,
	}
	if s.shuffle == nil {
		r := opts.Rand
		if r == nil {
			r = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		s.shuffle = r.Shuffle
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Initialize 建立本次会话的播放顺序。
//
//   - forceReset：对 current 重新洗牌，cursor=0
//   - 没有可用的落盘记录：同 forceReset
//   - resetProgressOnly：保留顺序，cursor=0
//   - 其余情况：与 current 对账（见 reconcile）
func (s *State) Initialize(current []string, forceReset, resetProgressOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current = dedupe(current)

	if forceReset {
		s.rec = s.fresh(current)
		s.log.Info("playlist reset", zap.Int("entries", len(current)))
		return s.persistLocked()
	}

	saved, ok := s.load()
	if !ok {
		s.rec = s.fresh(current)
		s.log.Info("playlist created", zap.Int("entries", len(current)))
		return s.persistLocked()
	}

	next := saved.Clone()
	if resetProgressOnly {
		next.Cursor = 0
		next.LastPlayed = nil
	}
	next = s.reconcile(next, current)

	s.rec = next
	if next.Equal(saved) {
		return nil
	}
	s.log.Info("playlist reconciled",
		zap.Int("entries", len(next.ShuffledOrder)),
		zap.Int("cursor", next.Cursor),
		zap.Int("saved_entries", len(saved.ShuffledOrder)),
		zap.Int("saved_cursor", saved.Cursor),
	)
	return s.persistLocked()
}

// reconcile 合并落盘顺序与最新目录：
// - 不在目录中的条目被移除，幸存者保持相对顺序
// - cursor 减去"旧 cursor 之前被移除的条目数"（下限 0）
// - 目录中新增的条目洗牌后追加到末尾
func (s *State) reconcile(rec domain.PlaylistRecord, current []string) domain.PlaylistRecord {
	inCatalog := make(map[string]struct{}, len(current))
	for _, name := range current {
		inCatalog[name] = struct{}{}
	}

	kept := make([]string, 0, len(rec.ShuffledOrder))
	seen := make(map[string]struct{}, len(rec.ShuffledOrder))
	removedBefore := 0
	for i, name := range rec.ShuffledOrder {
		_, ok := inCatalog[name]
		_, dup := seen[name]
		if !ok || dup {
			if i < rec.Cursor {
				removedBefore++
			}
			continue
		}
		seen[name] = struct{}{}
		kept = append(kept, name)
	}

	var added []string
	for _, name := range current {
		if _, ok := seen[name]; !ok {
			added = append(added, name)
		}
	}
	s.shuffleStrings(added)

	rec.ShuffledOrder = append(kept, added...)
	rec.Cursor = clamp(rec.Cursor-removedBefore, len(rec.ShuffledOrder))
	if rec.LastPlayed != nil {
		if _, ok := inCatalog[*rec.LastPlayed]; !ok {
			rec.LastPlayed = nil
		}
	}
	return rec
}

// GetNext 返回 cursor 处的条目并推进 cursor。列表耗尽时 ok=false。
//
// 落盘失败时内存状态已推进，条目照常返回，同时返回错误由调用方记录。
func (s *State) GetNext() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Cursor >= len(s.rec.ShuffledOrder) {
		return "", false, nil
	}
	name := s.rec.ShuffledOrder[s.rec.Cursor]
	s.rec.Cursor++
	v := name
	s.rec.LastPlayed = &v
	return name, true, s.persistLocked()
}

// Reshuffle 用 current 重新生成一轮顺序（列表耗尽后循环播放）。
func (s *State) Reshuffle(current []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.rec.LastPlayed
	s.rec = s.fresh(dedupe(current))
	s.rec.LastPlayed = last
	s.log.Info("playlist reshuffled", zap.Int("entries", len(s.rec.ShuffledOrder)))
	return s.persistLocked()
}

// Record 返回当前记录的副本。
func (s *State) Record() domain.PlaylistRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

func (s *State) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rec.ShuffledOrder) - s.rec.Cursor
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rec.ShuffledOrder)
}

func (s *State) fresh(current []string) domain.PlaylistRecord {
	order := append([]string(nil), current...)
	s.shuffleStrings(order)
	return domain.PlaylistRecord{
		ShuffledOrder: order,
		Cursor:        0,
		CreatedAt:     s.now().UTC(),
	}
}

func (s *State) shuffleStrings(xs []string) {
	if len(xs) < 2 {
		return
	}
	s.shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
}

// load 读取落盘记录。文件不存在或内容损坏都视为"没有记录"。
func (s *State) load() (domain.PlaylistRecord, bool) {
	if s.path == "" {
		return domain.PlaylistRecord{}, false
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("playlist state unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		}
		return domain.PlaylistRecord{}, false
	}
	var rec domain.PlaylistRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		s.log.Warn("playlist state corrupt, starting fresh", zap.String("path", s.path), zap.Error(err))
		return domain.PlaylistRecord{}, false
	}
	if rec.ShuffledOrder == nil {
		rec.ShuffledOrder = []string{}
	}
	if c := clamp(rec.Cursor, len(rec.ShuffledOrder)); c != rec.Cursor {
		s.log.Warn("playlist cursor out of range, clamped", zap.Int("cursor", rec.Cursor), zap.Int("clamped", c))
		rec.Cursor = c
	}
	return rec, true
}

func (s *State) persistLocked() error {
	if s.path == "" {
		return nil
	}
	rec := s.rec
	if rec.ShuffledOrder == nil {
		rec.ShuffledOrder = []string{}
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Dir(s.path), filepath.Base(s.path), b)
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func dedupe(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
