// This file implements LRU eviction.

package eviction

import "container/list"

// lru keeps keys in a list ordered from most (front) to least (back)
// recently used, with an index for O(1) moves.
type lru struct {
	order *list.List
	index map[string]*list.Element
}

func newLRU() *lru {
	return &lru{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (l *lru) OnGet(k string) {
	if el, ok := l.index[k]; ok {
		l.order.MoveToFront(el)
	}
}

// OnPut treats an overwrite as a use.
func (l *lru) OnPut(k string) {
	if el, ok := l.index[k]; ok {
		l.order.MoveToFront(el)
		return
	}
	l.index[k] = l.order.PushFront(k)
}

func (l *lru) Evict() string {
	el := l.order.Back()
	if el == nil {
		return ""
	}
	k := el.Value.(string)
	l.order.Remove(el)
	delete(l.index, k)
	return k
}

func (l *lru) Remove(k string) {
	if el, ok := l.index[k]; ok {
		l.order.Remove(el)
		delete(l.index, k)
	}
}
