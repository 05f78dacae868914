package auth

import (
	"sync"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// Hub はセッション変更通知を購読者へ配信する。
// 通知は発行元のgoroutineで登録順に同期的に配信する。
type Hub struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(model.AuthEvent)
	order    []int
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{handlers: make(map[int]func(model.AuthEvent))}
}

// Subscribe はハンドラーを登録し、解除用の関数を返す。解除関数は複数回呼んでもよい。
func (h *Hub) Subscribe(handler func(model.AuthEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers[id] = handler
	h.order = append(h.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish は登録済みの全ハンドラーにイベントを配信する。
// ハンドラー内での購読・解除を許容するため、ロックを保持したまま呼び出さない。
func (h *Hub) Publish(ev model.AuthEvent) {
	h.mu.Lock()
	handlers := make([]func(model.AuthEvent), 0, len(h.order))
	for _, id := range h.order {
		handlers = append(handlers, h.handlers[id])
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(copyEvent(ev))
	}
}

// size は登録中のハンドラー数を返す。
func (h *Hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

func copyEvent(ev model.AuthEvent) model.AuthEvent {
	if ev.Session != nil {
		s := *ev.Session
		ev.Session = &s
	}
	return ev
}
