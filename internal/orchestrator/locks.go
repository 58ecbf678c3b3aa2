package orchestrator

import "sync"

// pathLocks serializes work per ledger key so one path has a single writer.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newPathLocks() *pathLocks {
	return &pathLocks{held: make(map[string]chan struct{})}
}

func (l *pathLocks) lock(key string) func() {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
			}
		}
		l.mu.Unlock()
		<-wait
	}
}
