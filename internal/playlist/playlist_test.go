package playlist

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/John-Robertt/romstream/internal/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newState(t *testing.T, path string, seed int64) *State {
	t.Helper()
	return New(Options{
		Path: path,
		Rand: rand.New(rand.NewSource(seed)),
		Now:  func() time.Time { return fixedNow },
	})
}

func readRecord(t *testing.T, path string) domain.PlaylistRecord {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取状态文件失败：%v", err)
	}
	var rec domain.PlaylistRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("状态文件不是合法 JSON：%v", err)
	}
	return rec
}

func writeRecord(t *testing.T, path string, rec domain.PlaylistRecord) {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("序列化失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入状态文件失败：%v", err)
	}
}

func sameSet(a, b []string) bool {
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	return fmt.Sprint(x) == fmt.Sprint(y)
}

func TestScenario_ForceResetThenGetNext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// 固定洗牌结果 [B,A,C]。
	swapFirstTwo := func(n int, swap func(i, j int)) { swap(0, 1) }
	s := New(Options{Path: path, Shuffle: swapFirstTwo, Now: func() time.Time { return fixedNow }})

	if err := s.Initialize([]string{"A", "B", "C"}, true, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := s.Record().ShuffledOrder; fmt.Sprint(got) != "[B A C]" {
		t.Fatalf("期望 [B A C]，实际 %v", got)
	}

	name, ok, err := s.GetNext()
	if err != nil || !ok || name != "B" {
		t.Fatalf("期望 B，实际 %q ok=%v err=%v", name, ok, err)
	}
	rec := readRecord(t, path)
	if rec.Cursor != 1 || rec.LastPlayed == nil || *rec.LastPlayed != "B" {
		t.Fatalf("落盘记录不符合预期：%+v", rec)
	}

	name, _, _ = s.GetNext()
	if name != "A" {
		t.Fatalf("期望 A，实际 %q", name)
	}
	if rec := readRecord(t, path); rec.Cursor != 2 {
		t.Fatalf("期望 cursor=2，实际 %d", rec.Cursor)
	}
}

func TestScenario_ReconcileDropsBeforeCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeRecord(t, path, domain.PlaylistRecord{ShuffledOrder: []string{"A", "B", "C"}, Cursor: 2, CreatedAt: fixedNow})

	s := newState(t, path, 1)
	if err := s.Initialize([]string{"A", "C", "D"}, false, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec := readRecord(t, path)
	if fmt.Sprint(rec.ShuffledOrder) != "[A C D]" || rec.Cursor != 1 {
		t.Fatalf("对账结果不符合预期：%+v", rec)
	}
	name, _, _ := s.GetNext()
	if name != "C" {
		t.Fatalf("期望下一个为 C，实际 %q", name)
	}
}

func TestInitialize_ForceResetIsPermutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeRecord(t, path, domain.PlaylistRecord{ShuffledOrder: []string{"x"}, Cursor: 1})

	in := make([]string, 50)
	for i := range in {
		in[i] = fmt.Sprintf("game-%02d.zip", i)
	}
	s := newState(t, path, 42)
	if err := s.Initialize(in, true, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec := s.Record()
	if rec.Cursor != 0 || len(rec.ShuffledOrder) != len(in) || !sameSet(rec.ShuffledOrder, in) {
		t.Fatalf("期望 cursor=0 且为输入的排列：%+v", rec)
	}
	if fmt.Sprint(rec.ShuffledOrder) == fmt.Sprint(in) {
		t.Fatalf("50 个条目洗牌后仍保持原序，随机源未生效")
	}
}

func TestInitialize_IdempotentDoesNotRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	cat := []string{"A", "B", "C", "D"}

	s := newState(t, path, 7)
	if err := s.Initialize(cat, false, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, _, err := s.GetNext(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	before, _ := os.ReadFile(path)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("修改时间失败：%v", err)
	}

	for i := 0; i < 2; i++ {
		s2 := newState(t, path, int64(100+i))
		if err := s2.Initialize(cat, false, false); err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("状态未变化时不应改写内容")
	}
	st, _ := os.Stat(path)
	if !st.ModTime().Equal(old) {
		t.Fatalf("状态未变化时不应写盘：mtime=%v", st.ModTime())
	}
}

func TestInitialize_ResumeAtNextEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	cat := []string{"A", "B", "C", "D", "E"}

	s := newState(t, path, 3)
	if err := s.Initialize(cat, false, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	order := s.Record().ShuffledOrder
	for i := 0; i < 2; i++ {
		if _, _, err := s.GetNext(); err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
	}

	resumed := newState(t, path, 99)
	if err := resumed.Initialize(cat, false, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	name, ok, _ := resumed.GetNext()
	if !ok || name != order[2] {
		t.Fatalf("期望从第 3 个条目继续（%q），实际 %q", order[2], name)
	}
}

func TestInitialize_ResetProgressKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	last := "B"
	writeRecord(t, path, domain.PlaylistRecord{ShuffledOrder: []string{"C", "B", "A"}, Cursor: 2, CreatedAt: fixedNow, LastPlayed: &last})

	s := newState(t, path, 5)
	if err := s.Initialize([]string{"A", "B", "C"}, false, true); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec := readRecord(t, path)
	if fmt.Sprint(rec.ShuffledOrder) != "[C B A]" || rec.Cursor != 0 || rec.LastPlayed != nil {
		t.Fatalf("进度重置结果不符合预期：%+v", rec)
	}
}

func TestInitialize_CorruptAndOutOfRange(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	s := newState(t, corrupt, 1)
	if err := s.Initialize([]string{"A", "B"}, false, false); err != nil {
		t.Fatalf("损坏的状态文件不应报错：%v", err)
	}
	if rec := readRecord(t, corrupt); len(rec.ShuffledOrder) != 2 || rec.Cursor != 0 {
		t.Fatalf("期望重新建立播放列表：%+v", rec)
	}

	oob := filepath.Join(dir, "oob.json")
	writeRecord(t, oob, domain.PlaylistRecord{ShuffledOrder: []string{"A", "B"}, Cursor: 9, CreatedAt: fixedNow})
	s = newState(t, oob, 1)
	if err := s.Initialize([]string{"A", "B"}, false, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c := s.Record().Cursor; c != 2 {
		t.Fatalf("期望 cursor 被钳制为 2，实际 %d", c)
	}
	if s.Remaining() != 0 {
		t.Fatalf("期望没有剩余条目")
	}
}

func TestReconcile_Property(t *testing.T) {
	r := rand.New(rand.NewSource(2024))
	s := newState(t, "", 11)

	for iter := 0; iter < 200; iter++ {
		n := r.Intn(20)
		order := make([]string, n)
		for i := range order {
			order[i] = fmt.Sprintf("g%d", i)
		}
		r.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		cursor := 0
		if n > 0 {
			cursor = r.Intn(n + 1)
		}

		var current []string
		removed := map[string]bool{}
		removedBefore := 0
		for i, name := range order {
			if r.Intn(3) == 0 {
				removed[name] = true
				if i < cursor {
					removedBefore++
				}
				continue
			}
			current = append(current, name)
		}
		added := r.Intn(4)
		for i := 0; i < added; i++ {
			current = append(current, fmt.Sprintf("new%d", i))
		}
		r.Shuffle(len(current), func(i, j int) { current[i], current[j] = current[j], current[i] })

		got := s.reconcile(domain.PlaylistRecord{ShuffledOrder: order, Cursor: cursor}, current)

		var survivors []string
		for _, name := range order {
			if !removed[name] {
				survivors = append(survivors, name)
			}
		}
		if len(got.ShuffledOrder) != len(survivors)+added {
			t.Fatalf("iter %d：长度不符合预期 %v", iter, got.ShuffledOrder)
		}
		if fmt.Sprint(got.ShuffledOrder[:len(survivors)]) != fmt.Sprint(survivors) {
			t.Fatalf("iter %d：幸存者相对顺序被破坏 %v vs %v", iter, got.ShuffledOrder, survivors)
		}
		if !sameSet(got.ShuffledOrder, current) {
			t.Fatalf("iter %d：成员与目录不一致", iter)
		}
		if got.Cursor != cursor-removedBefore {
			t.Fatalf("iter %d：cursor 期望 %d，实际 %d", iter, cursor-removedBefore, got.Cursor)
		}
	}
}

func TestGetNext_ExhaustionAndReshuffle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := newState(t, path, 8)
	if err := s.Initialize([]string{"A", "B"}, true, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	for i := 0; i < 2; i++ {
		if _, ok, _ := s.GetNext(); !ok {
			t.Fatalf("第 %d 次 GetNext 不应耗尽", i+1)
		}
	}
	if _, ok, _ := s.GetNext(); ok {
		t.Fatalf("期望播放列表耗尽")
	}

	if err := s.Reshuffle([]string{"A", "B", "C"}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec := readRecord(t, path)
	if rec.Cursor != 0 || len(rec.ShuffledOrder) != 3 || rec.LastPlayed == nil {
		t.Fatalf("重新洗牌结果不符合预期：%+v", rec)
	}
	if s.Len() != 3 || s.Remaining() != 3 {
		t.Fatalf("Len/Remaining 不符合预期：%d/%d", s.Len(), s.Remaining())
	}
}
