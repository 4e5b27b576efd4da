package ingest

import (
	"chat-sync/domain"
	"sync"
)

type refLock struct {
	sync.Mutex
	refs int
}

// KeyedMutex serializes work per conversation while different conversations proceed in parallel.
// Entries are dropped when the last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[domain.ConversationID]*refLock
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[domain.ConversationID]*refLock)}
}

// Lock blocks until the key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key domain.ConversationID) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
