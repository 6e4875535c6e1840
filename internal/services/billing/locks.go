package billing

import "sync"

// KeyedLock provides non-blocking per-key mutual exclusion. The billing
// scan and the retry sweep both use it so a subscription is never
// charged by two workers at once.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewKeyedLock creates an empty lock set
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]bool)}
}

// TryLock acquires the key if free and reports whether it did
func (l *KeyedLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

// Unlock releases the key. Unlocking a free key is a no-op.
func (l *KeyedLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
