package lrustorage

// slotAllocator hands out free slots.
//
// Slots below next have been used at least once; slots in [next, size) have
// never been written since the file was created or cleared. Slots released by
// Delete or pruning go onto the reclaimed stack and are handed out before the
// cursor advances, so deleted slots are reused before fresh ones and long
// before a live entry would be evicted.
type slotAllocator struct {
	size      int
	next      int
	reclaimed []int32
}

func newSlotAllocator(size int) *slotAllocator {
	return &slotAllocator{size: size}
}

// take returns a free slot, or false when every slot is live.
func (a *slotAllocator) take() (int, bool) {
	if n := len(a.reclaimed); n > 0 {
		slot := a.reclaimed[n-1]
		a.reclaimed = a.reclaimed[:n-1]

		return int(slot), true
	}

	if a.next < a.size {
		slot := a.next
		a.next++

		return slot, true
	}

	return 0, false
}

// release makes slot available to the next take.
func (a *slotAllocator) release(slot int) {
	a.reclaimed = append(a.reclaimed, int32(slot))
}

// free returns the number of slots take can hand out without eviction.
func (a *slotAllocator) free() int {
	return len(a.reclaimed) + a.size - a.next
}

// resetTo marks slots [0, used) as handed out and everything above as never
// used, dropping the reclaimed stack.
func (a *slotAllocator) resetTo(used int) {
	a.next = used
	a.reclaimed = a.reclaimed[:0]
}
