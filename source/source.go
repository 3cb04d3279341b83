// Package source adapts the two producers of a stream, the generation
// process's text fragments and the side-channel notification queue, to a
// common await/result shape consumed by the merge loop.
package source

import "github.com/endlesschasey-ai/agent-template/types"

// UnitKind classifies the outcome of one await on a source.
type UnitKind int

const (
	// UnitProduced means one item was obtained.
	UnitProduced UnitKind = iota
	// UnitExhausted means the source will never produce again.
	UnitExhausted
	// UnitTimedOut means nothing arrived within the wait budget. Not an error.
	UnitTimedOut
	// UnitFailed means the source failed; Err is set.
	UnitFailed
)

// String returns the kind name.
func (k UnitKind) String() string {
	switch k {
	case UnitProduced:
		return "produced"
	case UnitExhausted:
		return "exhausted"
	case UnitTimedOut:
		return "timed_out"
	case UnitFailed:
		return "failed"
	}
	return "unknown"
}

// Unit is the result of awaiting a source.
// Fragment is set for produced fragment units, Notification for produced
// notification units.
type Unit struct {
	Kind         UnitKind
	Fragment     types.Fragment
	Notification types.Notification
	Err          error
}

// Sink accepts notifications from producers. Implementations must be safe
// for concurrent use.
type Sink interface {
	Push(n types.Notification)
}
