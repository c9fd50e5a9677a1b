package mrtd

import (
	"fmt"
	"sort"
)

// fragmentBuffer caches the byte ranges of one elementary file that have
// already crossed the card link. Reads land in a single arena; the buffer
// tracks which sub-ranges are valid so the file-system layer only requests
// bytes it has never seen. Ranges are kept sorted, disjoint and merged.
type fragmentBuffer struct {
	arena []byte
	spans []span
}

// span is a half-open valid range [start, end) of the arena.
type span struct {
	start, end int
}

func newFragmentBuffer(capacity int) *fragmentBuffer {
	return &fragmentBuffer{arena: make([]byte, capacity)}
}

// grow widens the arena, keeping buffered content.
func (f *fragmentBuffer) grow(capacity int) {
	if capacity <= len(f.arena) {
		return
	}
	bigger := make([]byte, capacity)
	copy(bigger, f.arena)
	wipe(f.arena)
	f.arena = bigger
}

// add merges newly received bytes at the given offset.
func (f *fragmentBuffer) add(offset int, data []byte) error {
	if offset < 0 || len(data) == 0 {
		return fmt.Errorf("cannot buffer %d bytes at offset %d", len(data), offset)
	}
	end := offset + len(data)
	if end > len(f.arena) {
		f.grow(end)
	}
	copy(f.arena[offset:end], data)

	f.spans = append(f.spans, span{start: offset, end: end})
	sort.Slice(f.spans, func(i, j int) bool { return f.spans[i].start < f.spans[j].start })

	merged := f.spans[:1]
	for _, s := range f.spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	f.spans = merged
	return nil
}

// missing returns the smallest unbuffered sub-range of the window
// [offset, offset+length). A zero-length result means the window is fully
// buffered.
func (f *fragmentBuffer) missing(offset, length int) (start, end int) {
	start, end = offset, offset+length
	for _, s := range f.spans {
		if s.start <= start && start < s.end {
			start = s.end // leading bytes already buffered
		}
		if s.start < end && end <= s.end {
			end = s.start // trailing bytes already buffered
		}
	}
	if start >= end {
		return offset, offset
	}
	return start, end
}

// buffered reports how many bytes of the window are already cached.
func (f *fragmentBuffer) buffered(offset, length int) int {
	total := 0
	for _, s := range f.spans {
		lo, hi := max(s.start, offset), min(s.end, offset+length)
		if lo < hi {
			total += hi - lo
		}
	}
	return total
}

// slice returns the window [offset, offset+length) if fully buffered.
func (f *fragmentBuffer) slice(offset, length int) ([]byte, bool) {
	if start, end := f.missing(offset, length); start != end {
		return nil, false
	}
	if offset+length > len(f.arena) {
		return nil, false
	}
	return f.arena[offset : offset+length], true
}

// wipe zeroizes the arena and forgets all ranges.
func (f *fragmentBuffer) wipe() {
	wipe(f.arena)
	f.spans = nil
}
