package heap

import (
	"context"
	"log/slog"
	"runtime/debug"
	"slices"
)

// Observer 在 Heap 的列表被替换之后收到通知
// 回调在替换完成、锁已释放之后同步执行
type Observer interface {
	HeapChanged(ctx context.Context, h *Heap)
}

// ObserverFunc 把函数适配成 Observer
type ObserverFunc func(ctx context.Context, h *Heap)

func (f ObserverFunc) HeapChanged(ctx context.Context, h *Heap) { f(ctx, h) }

type observerSlot struct {
	o Observer
}

// AddObserver 注册观察者，返回的函数用于注销
func (h *Heap) AddObserver(o Observer) (remove func()) {
	slot := &observerSlot{o: o}
	h.obsMu.Lock()
	h.observers = append(h.observers, slot)
	h.obsMu.Unlock()

	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		h.observers = slices.DeleteFunc(h.observers, func(s *observerSlot) bool { return s == slot })
	}
}

func (h *Heap) notify(ctx context.Context) {
	h.obsMu.Lock()
	observers := slices.Clone(h.observers)
	h.obsMu.Unlock()

	for _, slot := range observers {
		h.call(ctx, slot.o)
	}
}

// 单个观察者 panic 不影响其他观察者和轮询循环
func (h *Heap) call(ctx context.Context, o Observer) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("heap observer panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	o.HeapChanged(ctx, h)
}
