package policy

import "sync/atomic"

// Source holds the current Registry and lets a settings update swap it in
// atomically. Readings already being evaluated keep the registry they
// resolved against; new readings see the new one.
type Source struct {
	cur atomic.Pointer[Registry]
}

func NewSource(r *Registry) *Source {
	s := &Source{}
	s.cur.Store(r)
	return s
}

func (s *Source) Swap(r *Registry) { s.cur.Store(r) }

func (s *Source) Current() *Registry { return s.cur.Load() }
