package session

import (
	"sync"

	"github.com/andrewh/turnscope/pkg/timeline"
)

// Player drives a timeline synchronizer for one session and rebinds it to
// newer snapshots as they are committed.
type Player struct {
	engine    *Engine
	sessionID string

	mu      sync.Mutex
	version uint64
	sync    *timeline.Synchronizer
}

// Player returns a player bound to the session's latest snapshot, or to an
// empty timeline when nothing is committed yet.
func (e *Engine) Player(sessionID string) *Player {
	p := &Player{engine: e, sessionID: sessionID, sync: timeline.NewSynchronizer(nil)}
	if snap, ok := e.Latest(sessionID); ok {
		p.version = snap.Version
		p.sync = timeline.NewSynchronizer(snap.Timeline)
	}
	return p
}

// Version returns the snapshot version the player is bound to.
func (p *Player) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Entries returns the timeline the player is bound to.
func (p *Player) Entries() []timeline.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync.Entries()
}

// Active returns the active timeline entry.
func (p *Player) Active() (timeline.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync.Active()
}

// Refresh rebinds the synchronizer if a newer snapshot has been committed.
func (p *Player) Refresh() []timeline.Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh()
}

func (p *Player) refresh() []timeline.Directive {
	snap, ok := p.engine.Latest(p.sessionID)
	if !ok || snap.Version <= p.version {
		return nil
	}
	p.version = snap.Version
	return p.sync.SetEntries(snap.Timeline)
}

// Tick applies one playback position. A newer committed snapshot is picked up
// first; directives from the rebind precede those of the tick itself.
func (p *Player) Tick(current float64, playing bool) []timeline.Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.refresh()
	return append(out, p.sync.Update(current, playing)...)
}
