// Package timespan picks one record out of a set of effective-dated records.
package timespan

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Layout is the timestamp format used by upstream effective-dated records.
const Layout = "2006-01-02T15:04:05Z"

// ErrInvalidModifier is returned when a selector is built with an unknown modifier.
var ErrInvalidModifier = errors.New("invalid selection modifier")

// Modifier chooses the filter and ordering a Selector applies.
type Modifier string

const (
	Current          Modifier = "current"
	Previous         Modifier = "previous"
	Next             Modifier = "next"
	LatestNonExpired Modifier = "latestNonExpired"
	CurrentOrFuture  Modifier = "currentOrFuture"
)

// Modifiers lists every supported modifier.
func Modifiers() []Modifier {
	return []Modifier{Current, Previous, Next, LatestNonExpired, CurrentOrFuture}
}

// ParseModifier validates a modifier name.
func ParseModifier(s string) (Modifier, error) {
	for _, m := range Modifiers() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidModifier, s)
}

// Span is an effective/end pair. Effective <= End is expected but not enforced.
type Span struct {
	Effective time.Time
	End       time.Time
}

// Parse builds a Span from two timestamps in the given layout.
func Parse(effective, end, layout string) (Span, error) {
	if layout == "" {
		layout = Layout
	}
	eff, err := time.Parse(layout, effective)
	if err != nil {
		return Span{}, fmt.Errorf("parse effective date %q: %w", effective, err)
	}
	e, err := time.Parse(layout, end)
	if err != nil {
		return Span{}, fmt.Errorf("parse end date %q: %w", end, err)
	}
	return Span{Effective: eff, End: e}, nil
}

// Spanned is implemented by any record that carries a Span.
type Spanned interface {
	TimeSpan() Span
}

// TimeSpan lets a bare Span be selected directly.
func (s Span) TimeSpan() Span { return s }

// Selector applies one modifier relative to a fixed reference instant.
type Selector struct {
	mod Modifier
	ref time.Time
}

// NewSelector fails fast on an unknown modifier.
func NewSelector(mod Modifier, ref time.Time) (*Selector, error) {
	if _, err := ParseModifier(string(mod)); err != nil {
		return nil, err
	}
	return &Selector{mod: mod, ref: ref}, nil
}

func (s *Selector) Modifier() Modifier   { return s.mod }
func (s *Selector) Reference() time.Time { return s.ref }

// Keep reports whether sp passes the modifier's filter.
func (s *Selector) Keep(sp Span) bool {
	switch s.mod {
	case Current:
		return !sp.Effective.After(s.ref) && !s.ref.After(sp.End)
	case Previous:
		return sp.End.Before(s.ref)
	case Next:
		return sp.Effective.After(s.ref)
	case LatestNonExpired:
		return sp.End.After(s.ref)
	case CurrentOrFuture:
		return !sp.End.Before(s.ref)
	}
	return false
}

func (s *Selector) sortKey(sp Span) time.Time {
	if s.mod == Previous {
		return sp.End
	}
	return sp.Effective
}

// Descending reports whether the sort runs newest first.
func (s *Selector) Descending() bool {
	switch s.mod {
	case Current, Previous, LatestNonExpired:
		return true
	}
	return false
}

// Filter returns the candidates that pass Keep, ordered by the modifier's sort key.
// The sort is stable so ties keep their input order.
func Filter[T Spanned](s *Selector, candidates []T) []T {
	kept := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if s.Keep(c.TimeSpan()) {
			kept = append(kept, c)
		}
	}
	desc := s.Descending()
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := s.sortKey(kept[i].TimeSpan()), s.sortKey(kept[j].TimeSpan())
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
	return kept
}

// Select returns the first candidate after filtering and sorting.
// The boolean is false when nothing qualifies.
func Select[T Spanned](s *Selector, candidates []T) (T, bool) {
	kept := Filter(s, candidates)
	if len(kept) == 0 {
		var zero T
		return zero, false
	}
	return kept[0], true
}

// MostRecent returns the item with the latest effective date, ignoring any filter.
// Used as the fallback when Select finds nothing.
func MostRecent[T any](items []T, effective func(T) time.Time) (T, bool) {
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return effective(sorted[i]).After(effective(sorted[j]))
	})
	return sorted[0], true
}
