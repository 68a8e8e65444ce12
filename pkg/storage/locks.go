package storage

import "sync"

// pathLocks hands out one RWMutex per managed path, created on demand and
// dropped when its last holder releases it.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.RWMutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (p *pathLocks) acquire(path string) *pathLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	return l
}

func (p *pathLocks) release(path string, l *pathLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, path)
	}
}

// Lock takes the write lock for path.
func (p *pathLocks) Lock(path string) func() {
	l := p.acquire(path)
	l.Lock()
	return func() {
		l.Unlock()
		p.release(path, l)
	}
}

// RLock takes the read lock for path.
func (p *pathLocks) RLock(path string) func() {
	l := p.acquire(path)
	l.RLock()
	return func() {
		l.RUnlock()
		p.release(path, l)
	}
}

// size reports how many paths currently have a lock entry.
func (p *pathLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
