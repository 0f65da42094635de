// Active-turn synchronizer driven by the audio player's position
// Directives are edge-triggered: one highlight and one scroll per newly active turn
package timeline

// DirectiveKind is the presentation action requested by the synchronizer.
type DirectiveKind string

const (
	Highlight DirectiveKind = "highlight"
	Scroll    DirectiveKind = "scroll"
	Clear     DirectiveKind = "clear"
)

// Directive tells the presentation layer what to do with a turn.
type Directive struct {
	Kind   DirectiveKind `json:"kind" yaml:"kind"`
	TurnID string        `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	Index  int           `json:"index" yaml:"index"`
}

// Synchronizer tracks which timeline entry is active for the current
// playback position. It holds no derived data beyond the entries it was
// given and is not safe for concurrent use.
type Synchronizer struct {
	entries []Entry
	active  int // index into entries, -1 when nothing is active
}

// NewSynchronizer returns a synchronizer with nothing active.
func NewSynchronizer(entries []Entry) *Synchronizer {
	return &Synchronizer{entries: entries, active: -1}
}

// Entries returns the entries the synchronizer is bound to.
func (s *Synchronizer) Entries() []Entry { return s.entries }

// Active returns the active entry, if any.
func (s *Synchronizer) Active() (Entry, bool) {
	if s.active < 0 {
		return Entry{}, false
	}
	return s.entries[s.active], true
}

// SetEntries rebinds the synchronizer to a rebuilt timeline. The active turn
// survives if its ID is still present; otherwise it is cleared.
func (s *Synchronizer) SetEntries(entries []Entry) []Directive {
	prev, wasActive := s.Active()
	s.entries = entries
	s.active = -1
	if !wasActive {
		return nil
	}
	for i, e := range entries {
		if e.TurnID == prev.TurnID {
			s.active = i
			return nil
		}
	}
	return []Directive{{Kind: Clear, TurnID: prev.TurnID, Index: prev.Index}}
}

// Update applies one playback tick. While paused nothing is ever active.
// While playing, a position outside every entry leaves the state unchanged,
// and a newly matched entry yields a highlight and a single scroll.
func (s *Synchronizer) Update(current float64, playing bool) []Directive {
	if !playing {
		prev, wasActive := s.Active()
		s.active = -1
		if !wasActive {
			return nil
		}
		return []Directive{{Kind: Clear, TurnID: prev.TurnID, Index: prev.Index}}
	}

	i, ok := Lookup(s.entries, current)
	if !ok || i == s.active {
		return nil
	}
	if s.active >= 0 && s.entries[s.active].TurnID == s.entries[i].TurnID {
		s.active = i
		return nil
	}
	s.active = i
	e := s.entries[i]
	return []Directive{
		{Kind: Highlight, TurnID: e.TurnID, Index: e.Index},
		{Kind: Scroll, TurnID: e.TurnID, Index: e.Index},
	}
}
