package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/extract"
	"github.com/John-Robertt/romstream/internal/infra/httpx"
	"github.com/John-Robertt/romstream/internal/playlist"
)

func memPlaylist(t *testing.T, names []string) *playlist.State {
	t.Helper()
	s := playlist.New(playlist.Options{Rand: rand.New(rand.NewSource(1))})
	if err := s.Initialize(names, true, false); err != nil {
		t.Fatalf("初始化播放列表失败：%v", err)
	}
	return s
}

func TestHandoff_BeginDedupAndFIFO(t *testing.T) {
	h := NewHandoff()
	if !h.Begin("A") || h.Begin("A") {
		t.Fatalf("同一条目不应被重复登记")
	}
	if !h.Begin("B") {
		t.Fatalf("不同条目应可登记")
	}
	h.Complete(domain.PreparedGame{FileName: "B"})
	if h.Begin("B") {
		t.Fatalf("已排队的条目不应再登记")
	}
	h.Complete(domain.PreparedGame{FileName: "A"})

	if ready, preparing := h.Counts(); ready != 2 || preparing != 0 {
		t.Fatalf("计数不符合预期：ready=%d preparing=%d", ready, preparing)
	}
	g, _ := h.Pop()
	if g.FileName != "B" {
		t.Fatalf("期望 FIFO 先出 B，实际 %q", g.FileName)
	}
	if !h.Begin("B") {
		t.Fatalf("出队后应可重新登记")
	}
	h.Abandon("B")
	if h.Buffered() != 1 {
		t.Fatalf("期望 buffered=1，实际 %d", h.Buffered())
	}
	select {
	case <-h.Notify():
	default:
		t.Fatalf("入队后应有通知")
	}
}

func TestPipeline_StopsAtLookAhead(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	pl := memPlaylist(t, names)
	q := NewHandoff()
	p := &Pipeline{
		Playlist:  pl,
		Entries:   entries(names...),
		Queue:     q,
		Preparer:  &fakePreparer{delay: 5 * time.Millisecond},
		LookAhead: 2,
		Interval:  time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if ready, preparing := q.Counts(); ready != 2 || preparing != 0 {
		t.Fatalf("没有消费者时应恰好缓冲 2 个：ready=%d preparing=%d", ready, preparing)
	}
	if rem := pl.Remaining(); rem != 3 {
		t.Fatalf("只应出队 2 个条目，剩余 %d", rem)
	}
}

func TestPipeline_LookAheadInvariantUnderSlowDownloads(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("game-%02d.zip", i)
	}
	q := NewHandoff()
	prep := &fakePreparer{delay: 15 * time.Millisecond}
	p := &Pipeline{
		Playlist:  memPlaylist(t, names),
		Entries:   entries(names...),
		Queue:     q,
		Preparer:  prep,
		LookAhead: 2,
		Interval:  time.Millisecond,
	}
	player := &Player{
		Queue:        q,
		Launcher:     &fakeLauncher{},
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var maxSeen int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			if n := int64(q.Buffered()); n > atomic.LoadInt64(&maxSeen) {
				atomic.StoreInt64(&maxSeen, n)
			}
			time.Sleep(200 * time.Microsecond)
		}
	}()

	go func() { _ = player.Run(ctx) }()
	_ = p.Run(ctx)
	<-done

	if m := atomic.LoadInt64(&maxSeen); m > 2 {
		t.Fatalf("ready + preparing 超过上限：%d", m)
	}
	if prep.peak > 2 {
		t.Fatalf("并发准备数超过上限：%d", prep.peak)
	}
	if len(player.Launcher.(*fakeLauncher).Launched()) == 0 {
		t.Fatalf("期望至少播放过一个游戏")
	}
}

func TestPipeline_FailureIsolated(t *testing.T) {
	names := []string{"A", "B", "C"}
	obs := newRecordObserver()
	q := NewHandoff()
	prep := &fakePreparer{fail: map[string]error{
		"B": &stageError{Stage: stageDownload, Err: &httpx.TooManyRedirectsError{URL: "u", Hops: 10}},
	}}
	p := &Pipeline{
		Playlist:  memPlaylist(t, names),
		Entries:   entries(names...),
		Queue:     q,
		Preparer:  prep,
		LookAhead: 3,
		Interval:  time.Millisecond,
		Observer:  obs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	// A、C 就绪；B 每轮都失败（耗尽后重新洗牌会再次尝试），但从不入队。
	var ready []string
	for {
		g, ok := q.Pop()
		if !ok {
			break
		}
		ready = append(ready, g.FileName)
	}
	if len(ready) != 2 {
		t.Fatalf("期望 A、C 就绪，实际 %v", ready)
	}
	for _, n := range ready {
		if n == "B" {
			t.Fatalf("失败条目不应入队")
		}
	}
	var failed *domain.ItemResult
	for _, it := range obs.Items() {
		if it.Status == domain.StatusFailed {
			it := it
			failed = &it
			break
		}
	}
	if failed == nil || failed.FileName != "B" || failed.ErrorCode != domain.ErrCodeTooManyRedirect {
		t.Fatalf("失败结果不符合预期：%+v", failed)
	}
	if prep.Calls("B") < 2 {
		t.Fatalf("失败条目应在重新洗牌后再次尝试，实际 %d 次", prep.Calls("B"))
	}
	if prep.Calls("A") != 1 || prep.Calls("C") != 1 {
		t.Fatalf("已排队的条目不应重复准备：A=%d C=%d", prep.Calls("A"), prep.Calls("C"))
	}
}

func TestPipeline_CancelStopsPromptly(t *testing.T) {
	names := []string{"A", "B"}
	p := &Pipeline{
		Playlist:  memPlaylist(t, names),
		Entries:   entries(names...),
		Queue:     NewHandoff(),
		Preparer:  &fakePreparer{delay: time.Hour},
		LookAhead: 2,
		Interval:  time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("取消后 pipeline 未及时退出")
	}
	if p.Queue.Buffered() != 0 {
		t.Fatalf("取消的准备应从准备中集合移除")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&stageError{Stage: stageDownload, Err: &httpx.DownloadAuthError{StatusCode: 403, Attempts: 3}}, domain.ErrCodeDownloadAuth},
		{&stageError{Stage: stageDownload, Err: &httpx.HTTPStatusError{StatusCode: 404}}, domain.ErrCodeDownloadFailed},
		{&stageError{Stage: stageExtract, Err: &extract.ExtractionError{Archive: "a.7z"}}, domain.ErrCodeExtraction},
		{&stageError{Stage: stageSelect, Err: extract.ErrNoPlayable}, domain.ErrCodeNoPlayable},
		{&stageError{Stage: stageMove, Err: errors.New("disk full")}, domain.ErrCodeIOFailed},
		{&LaunchError{Path: "x", Err: errors.New("nope")}, domain.ErrCodeLaunchFailed},
	}
	for _, c := range cases {
		if got := errorCode(c.err); got != c.want {
			t.Fatalf("errorCode(%v)=%q，期望 %q", c.err, got, c.want)
		}
	}
}
