package fulfillment

import "sync"

// orderLocks сериализует мутации по одному заказу. Разные заказы не
// блокируют друг друга; глобального замка нет.
type orderLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newOrderLocks() *orderLocks {
	return &orderLocks{m: make(map[string]*sync.Mutex)}
}

func (l *orderLocks) get(orderID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[orderID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[orderID] = m
	return m
}
