package lrustorage

// noSlot terminates the recency list.
const noSlot int32 = -1

// recencyIndex maps fingerprints to slot indices and keeps the live slots in a
// doubly linked list ordered from most to least recently used.
//
// The list is intrusive over slot indices: prev/next/fps are parallel arrays
// sized to the slot count, so list nodes never move and need no allocation.
// The fingerprint of every linked slot is kept here rather than re-read from
// the mapping, so raw slot writes cannot desynchronize the map and the list.
type recencyIndex struct {
	slots map[uint64]int32
	fps   []uint64
	prev  []int32
	next  []int32
	head  int32
	tail  int32
}

func newRecencyIndex(slotCount int) *recencyIndex {
	idx := &recencyIndex{
		slots: make(map[uint64]int32),
		fps:   make([]uint64, slotCount),
		prev:  make([]int32, slotCount),
		next:  make([]int32, slotCount),
	}
	idx.reset()

	return idx
}

func (x *recencyIndex) reset() {
	clear(x.slots)
	clear(x.fps)

	for i := range x.prev {
		x.prev[i] = noSlot
		x.next[i] = noSlot
	}

	x.head = noSlot
	x.tail = noSlot
}

func (x *recencyIndex) len() int {
	return len(x.slots)
}

// get returns the slot holding fp.
func (x *recencyIndex) get(fp uint64) (int, bool) {
	slot, ok := x.slots[fp]

	return int(slot), ok
}

// fingerprint returns the fingerprint linked at slot.
func (x *recencyIndex) fingerprint(slot int) uint64 {
	return x.fps[slot]
}

// pushFront links slot as the most recently used entry for fp.
func (x *recencyIndex) pushFront(fp uint64, slot int) {
	s := int32(slot)

	x.slots[fp] = s
	x.fps[slot] = fp
	x.prev[slot] = noSlot
	x.next[slot] = x.head

	if x.head != noSlot {
		x.prev[x.head] = s
	}

	x.head = s

	if x.tail == noSlot {
		x.tail = s
	}
}

// pushBack links slot as the least recently used entry for fp.
func (x *recencyIndex) pushBack(fp uint64, slot int) {
	s := int32(slot)

	x.slots[fp] = s
	x.fps[slot] = fp
	x.next[slot] = noSlot
	x.prev[slot] = x.tail

	if x.tail != noSlot {
		x.next[x.tail] = s
	}

	x.tail = s

	if x.head == noSlot {
		x.head = s
	}
}

// unlink detaches slot from the list without touching the map.
func (x *recencyIndex) unlink(slot int) {
	prev, next := x.prev[slot], x.next[slot]

	if prev != noSlot {
		x.next[prev] = next
	} else {
		x.head = next
	}

	if next != noSlot {
		x.prev[next] = prev
	} else {
		x.tail = prev
	}

	x.prev[slot] = noSlot
	x.next[slot] = noSlot
}

// moveToFront marks a linked slot as most recently used.
func (x *recencyIndex) moveToFront(slot int) {
	if x.head == int32(slot) {
		return
	}

	x.unlink(slot)
	x.pushFront(x.fps[slot], slot)
}

// remove unlinks slot and drops its fingerprint from the map.
func (x *recencyIndex) remove(slot int) {
	x.unlink(slot)
	delete(x.slots, x.fps[slot])
	x.fps[slot] = 0
}

// back returns the least recently used slot.
func (x *recencyIndex) back() (int, bool) {
	if x.tail == noSlot {
		return 0, false
	}

	return int(x.tail), true
}

// order returns the linked slots from most to least recently used.
func (x *recencyIndex) order() []int {
	out := make([]int, 0, len(x.slots))

	for s := x.head; s != noSlot; s = x.next[s] {
		out = append(out, int(s))
	}

	return out
}
