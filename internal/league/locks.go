package league

import "sync"

// guildLocks serialises lifecycle work per guild without blocking other
// guilds.
type guildLocks struct {
	mu    sync.Mutex
	locks map[string]*guildLock
}

type guildLock struct {
	mu   sync.Mutex
	refs int
}

func newGuildLocks() *guildLocks {
	return &guildLocks{locks: make(map[string]*guildLock)}
}

func (g *guildLocks) lock(guildID string) func() {
	g.mu.Lock()
	l, ok := g.locks[guildID]
	if !ok {
		l = &guildLock{}
		g.locks[guildID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, guildID)
		}
		g.mu.Unlock()
	}
}
