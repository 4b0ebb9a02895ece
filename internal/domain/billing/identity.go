package billing

import "fmt"

// ServiceRef identifies the visit-service a billed line correlates to. A ref
// is either persisted (a real, positive identifier from the visit management
// system) or transient (a placeholder minted for a dry-run inquiry line so
// that multiple unsaved lines never collide with each other or with real
// refs). Transient refs are encoded as negative values for storage and
// wire compatibility, but callers compare and order through the methods
// here rather than relying on sign.
type ServiceRef struct {
	v int64
}

// PersistedRef wraps a real visit-service identifier. id must be positive.
func PersistedRef(id int64) ServiceRef {
	return ServiceRef{v: id}
}

// TransientRef mints the placeholder for the seq-th unsaved line of an
// inquiry (1-based). The first line gets -1, the second -2, and so on.
func TransientRef(seq int64) ServiceRef {
	return ServiceRef{v: -seq}
}

// RefFromInt64 reconstructs a ref from its stored encoding.
func RefFromInt64(v int64) ServiceRef { return ServiceRef{v: v} }

func (r ServiceRef) IsZero() bool      { return r.v == 0 }
func (r ServiceRef) IsPersisted() bool { return r.v > 0 }
func (r ServiceRef) IsTransient() bool { return r.v < 0 }

// Int64 returns the stored encoding (positive, zero, or negative).
func (r ServiceRef) Int64() int64 { return r.v }

// Clamped returns the ref as exposed to dry-run callers: transient refs
// collapse to zero, persisted refs pass through.
func (r ServiceRef) Clamped() int64 {
	if r.v < 0 {
		return 0
	}
	return r.v
}

// Less orders refs the way the inquiry loop consumes them when sorting
// descending: higher persisted ids first, then transient refs from the
// earliest-minted (-1) down.
func (r ServiceRef) Less(other ServiceRef) bool { return r.v < other.v }

func (r ServiceRef) String() string {
	if r.IsTransient() {
		return fmt.Sprintf("transient(%d)", -r.v)
	}
	return fmt.Sprintf("%d", r.v)
}

// refCounter mints strictly decreasing transient refs for one inquiry call.
type refCounter struct {
	next int64
}

func newRefCounter() *refCounter { return &refCounter{next: 1} }

func (c *refCounter) mint() ServiceRef {
	r := TransientRef(c.next)
	c.next++
	return r
}
