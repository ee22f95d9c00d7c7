package rpc

// arena stores pending continuations in slots indexed by request identifier.
// Slots are explicitly vacant (nil) or occupied; vacated identifiers go on a
// free list and are reused by later requests, so the table stays bounded by
// the peak number of in-flight requests rather than growing for the lifetime
// of the session.
//
// arena is not safe for concurrent use; only the core's goroutine touches it.
type arena struct {
	slots []Continuation
	free  []uint64
}

// put stores a continuation and returns its identifier. Identifiers from the
// free list are preferred; otherwise the arena grows by one slot.
func (a *arena) put(cont Continuation) uint64 {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[id] = cont
		return id
	}
	a.slots = append(a.slots, cont)
	return uint64(len(a.slots) - 1)
}

// take vacates the slot for id and returns its continuation. It reports
// false for identifiers that are out of range or already vacant (a stale
// duplicate or a protocol violation).
func (a *arena) take(id uint64) (Continuation, bool) {
	if id >= uint64(len(a.slots)) || a.slots[id] == nil {
		return nil, false
	}
	cont := a.slots[id]
	a.slots[id] = nil
	a.free = append(a.free, id)
	return cont, true
}

// drain vacates every occupied slot and returns the continuations in
// identifier order. Used on shutdown so no continuation is left pending.
func (a *arena) drain() []Continuation {
	var conts []Continuation
	for id, cont := range a.slots {
		if cont != nil {
			conts = append(conts, cont)
			a.slots[id] = nil
			a.free = append(a.free, uint64(id))
		}
	}
	return conts
}

// size returns the number of occupied slots.
func (a *arena) size() int {
	return len(a.slots) - len(a.free)
}
