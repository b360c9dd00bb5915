package gpu

import (
	"fmt"
	"sort"
)

// Handle names a slot in the Manager's arena. The generation changes every
// time the slot is freed, so a handle kept past Free or Resize is detected
// instead of aliasing the slot's next occupant. The zero Handle is invalid.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	if !h.Valid() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.index, h.gen)
}

type ImageHandle struct{ Handle }

type BufferHandle struct{ Handle }

type resourceKind uint8

const (
	kindImage resourceKind = iota + 1
	kindBuffer
)

type slot struct {
	gen    uint32
	live   bool
	kind   resourceKind
	res    Resource
	image  ImageDesc
	buffer BufferDesc
	seq    uint64
}

func (s *slot) size() uint64 {
	if s.kind == kindImage {
		return s.image.ByteSize()
	}
	return s.buffer.Size
}

func (s *slot) label() string {
	if s.kind == kindImage {
		return s.image.Label
	}
	return s.buffer.Label
}

type handleTable struct {
	slots []slot
	free  []uint32
	seq   uint64
}

func (t *handleTable) insert(s slot) Handle {
	t.seq++
	s.seq = t.seq
	s.live = true

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s.gen = t.slots[idx].gen
		t.slots[idx] = s
		return Handle{index: idx, gen: s.gen}
	}
	s.gen = 1
	t.slots = append(t.slots, s)
	return Handle{index: uint32(len(t.slots) - 1), gen: 1}
}

func (t *handleTable) get(h Handle) (*slot, bool) {
	if !h.Valid() || int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s, true
}

// remove retires the slot and returns its previous contents.
func (t *handleTable) remove(h Handle) (slot, bool) {
	s, ok := t.get(h)
	if !ok {
		return slot{}, false
	}
	old := *s
	s.live = false
	s.res = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.index)
	return old, true
}

// live returns live handles, most recently allocated first.
func (t *handleTable) live() []Handle {
	out := make([]Handle, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].live {
			out = append(out, Handle{index: uint32(i), gen: t.slots[i].gen})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return t.slots[out[a].index].seq > t.slots[out[b].index].seq
	})
	return out
}
