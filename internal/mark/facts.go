package mark

import (
	"github.com/phobologic/markguard/internal/cfg"
	"github.com/phobologic/markguard/internal/model"
)

// Facts is what is known about completion calls at the end of a segment.
type Facts struct {
	// Called is set when a correct completion call is attributed to the
	// segment, or, without a direct call, to every predecessor.
	Called bool
	// CallCount counts direct calls within the segment.
	CallCount int
	// PathCalls is the largest number of calls along any path through the
	// end of the segment.
	PathCalls int
	// First is the first direct call; it classifies the segment.
	First *CallSite
	// Attempt is the call that explains Called == false, when there is one.
	Attempt *CallSite
	// PathFirst is the first call on the path that produced PathCalls.
	PathFirst *CallSite
}

// MethodName returns the name invoked by the first direct call.
func (f *Facts) MethodName() string {
	if f.First == nil {
		return ""
	}
	return f.First.Name
}

// IsMethodCall reports whether the first direct call was a method call.
func (f *Facts) IsMethodCall() bool {
	return f.First != nil && f.First.Shape == ShapeMethod
}

// Allowed returns the allowed methods at the first direct call.
func (f *Facts) Allowed() []string {
	if f.First == nil {
		return nil
	}
	return f.First.Allowed
}

// Location returns the location of the first direct call.
func (f *Facts) Location() (model.Location, bool) {
	if f.First == nil {
		return model.Location{}, false
	}
	return f.First.Location, true
}

// Duplicated reports whether a path through the segment called more than
// once.
func (f *Facts) Duplicated() bool {
	return f.CallCount > 1 || f.PathCalls > 1
}

// Store holds segment facts for one traversal.
type Store struct {
	facts map[int]*Facts
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{facts: make(map[int]*Facts)}
}

// Get returns the facts of seg, if any were recorded.
func (s *Store) Get(seg *cfg.Segment) (*Facts, bool) {
	f, ok := s.facts[seg.ID]
	return f, ok
}

// Enter initializes the facts of seg by merging its predecessors: the
// completion call happened only if it happened on every incoming path.
// Predecessors without facts (not yet visited) are ignored.
func (s *Store) Enter(seg *cfg.Segment) *Facts {
	f := &Facts{}
	merged := false
	for _, prev := range seg.Prev {
		pf, ok := s.facts[prev.ID]
		if !ok {
			continue
		}
		if !merged {
			f.Called = true
			merged = true
		}
		if !pf.Called {
			f.Called = false
			if f.Attempt == nil {
				f.Attempt = pf.Attempt
			}
		}
		if pf.PathCalls > f.PathCalls {
			f.PathCalls = pf.PathCalls
			f.PathFirst = pf.PathFirst
		}
	}
	s.facts[seg.ID] = f
	return f
}

// Record attributes a call to seg. The first direct call classifies the
// segment; later ones only count.
func (s *Store) Record(seg *cfg.Segment, site *CallSite) {
	f, ok := s.facts[seg.ID]
	if !ok {
		f = s.Enter(seg)
	}

	f.CallCount++
	f.PathCalls++
	if f.PathFirst == nil {
		f.PathFirst = site
	}
	if f.CallCount > 1 {
		return
	}

	f.First = site
	f.Called = site.Called()
	if f.Called {
		f.Attempt = nil
	} else {
		f.Attempt = site
	}
}
