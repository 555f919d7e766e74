package stream

import (
	"sync"

	"github.com/John-Robertt/romstream/internal/domain"
)

// Handoff 是 pipeline 与播放循环之间的 FIFO 交接队列，同时维护"准备中"集合。
// 两者共用一把锁：Buffered 读到的是同一时刻的 ready + preparing。
type Handoff struct {
	mu        sync.Mutex
	ready     []domain.PreparedGame
	preparing map[string]struct{}
	queued    map[string]struct{}

	// notify 容量为 1：有新条目入队时非阻塞地唤醒等待方。
	notify chan struct{}
}

func NewHandoff() *Handoff {
	return &Handoff{
		preparing: map[string]struct{}{},
		queued:    map[string]struct{}{},
		notify:    make(chan struct{}, 1),
	}
}

// Begin 原子地检查并登记一个准备中的条目；条目已在准备中或已排队时返回 false。
func (h *Handoff) Begin(fileName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.preparing[fileName]; ok {
		return false
	}
	if _, ok := h.queued[fileName]; ok {
		return false
	}
	h.preparing[fileName] = struct{}{}
	return true
}

// Complete 把准备完成的条目移出准备集合并入队。
func (h *Handoff) Complete(g domain.PreparedGame) {
	h.mu.Lock()
	delete(h.preparing, g.FileName)
	h.ready = append(h.ready, g)
	h.queued[g.FileName] = struct{}{}
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Abandon 放弃一次准备尝试。
func (h *Handoff) Abandon(fileName string) {
	h.mu.Lock()
	delete(h.preparing, fileName)
	h.mu.Unlock()
}

// Pop 取出队首条目；队列为空时 ok=false。
func (h *Handoff) Pop() (domain.PreparedGame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ready) == 0 {
		return domain.PreparedGame{}, false
	}
	g := h.ready[0]
	h.ready[0] = domain.PreparedGame{}
	h.ready = h.ready[1:]
	delete(h.queued, g.FileName)
	return g, true
}

// Buffered 返回 ready + preparing。
func (h *Handoff) Buffered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ready) + len(h.preparing)
}

// Counts 分别返回 ready 与 preparing 的数量。
func (h *Handoff) Counts() (ready, preparing int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ready), len(h.preparing)
}

// Notify 返回入队通知通道。
func (h *Handoff) Notify() <-chan struct{} { return h.notify }
