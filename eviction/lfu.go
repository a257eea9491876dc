// This file implements LFU eviction.

package eviction

// lfu groups keys into buckets by read count. Ties inside the lowest bucket
// are broken arbitrarily.
type lfu struct {
	freq    map[string]int
	buckets map[int]map[string]struct{}

	// minFreq is the smallest non-empty bucket, or 0 when unknown.
	minFreq int
}

func newLFU() *lfu {
	return &lfu{
		freq:    make(map[string]int),
		buckets: make(map[int]map[string]struct{}),
	}
}

func (l *lfu) OnGet(k string) {
	n, ok := l.freq[k]
	if !ok {
		return
	}
	l.unlink(k, n)
	l.link(k, n+1)
	if l.minFreq == n && len(l.buckets[n]) == 0 {
		l.minFreq = n + 1
	}
}

func (l *lfu) OnPut(k string) {
	if _, ok := l.freq[k]; ok {
		return
	}
	l.link(k, 1)
	l.minFreq = 1
}

func (l *lfu) Evict() string {
	if len(l.freq) == 0 {
		return ""
	}
	if len(l.buckets[l.minFreq]) == 0 {
		l.recomputeMin()
	}
	for k := range l.buckets[l.minFreq] {
		l.unlink(k, l.minFreq)
		delete(l.freq, k)
		return k
	}
	return ""
}

func (l *lfu) Remove(k string) {
	n, ok := l.freq[k]
	if !ok {
		return
	}
	l.unlink(k, n)
	delete(l.freq, k)
}

func (l *lfu) link(k string, n int) {
	l.freq[k] = n
	b := l.buckets[n]
	if b == nil {
		b = make(map[string]struct{})
		l.buckets[n] = b
	}
	b[k] = struct{}{}
}

func (l *lfu) unlink(k string, n int) {
	delete(l.buckets[n], k)
	if len(l.buckets[n]) == 0 {
		delete(l.buckets, n)
	}
}

func (l *lfu) recomputeMin() {
	l.minFreq = 0
	for n := range l.buckets {
		if l.minFreq == 0 || n < l.minFreq {
			l.minFreq = n
		}
	}
}
