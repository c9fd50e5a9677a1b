package mrtd

import (
	"bytes"
	"testing"
)

func TestFragmentBuffer_AddAndSlice(t *testing.T) {
	f := newFragmentBuffer(32)

	if err := f.add(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := f.add(8, []byte{9, 10}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	got, ok := f.slice(0, 4)
	if !ok || !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("slice(0,4): got %v, %v", got, ok)
	}
	if _, ok := f.slice(0, 10); ok {
		t.Error("slice over a gap should fail")
	}
	if _, ok := f.slice(8, 2); !ok {
		t.Error("slice(8,2) should be buffered")
	}
}

func TestFragmentBuffer_Missing(t *testing.T) {
	f := newFragmentBuffer(64)
	if err := f.add(0, make([]byte, 8)); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	tests := []struct {
		name         string
		offset       int
		length       int
		wantS, wantE int
	}{
		{"Overlapping window resumes after the cache", 0, 20, 8, 20},
		{"Fully buffered window", 0, 8, 0, 0},
		{"Disjoint window", 32, 8, 32, 40},
		{"Leading edge cached", 4, 8, 8, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := f.missing(tt.offset, tt.length)
			if s != tt.wantS || e != tt.wantE {
				t.Errorf("missing(%d,%d) = [%d,%d), want [%d,%d)", tt.offset, tt.length, s, e, tt.wantS, tt.wantE)
			}
		})
	}
}

func TestFragmentBuffer_MergeSpans(t *testing.T) {
	f := newFragmentBuffer(64)
	for _, a := range []struct {
		off  int
		data []byte
	}{
		{0, []byte{1, 1}},
		{4, []byte{3, 3}},
		{2, []byte{2, 2}},    // bridges the gap
		{4, []byte{3, 3, 3}}, // overlaps the tail
	} {
		if err := f.add(a.off, a.data); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	if len(f.spans) != 1 {
		t.Fatalf("Got %d spans, want 1 merged span: %v", len(f.spans), f.spans)
	}
	if f.spans[0] != (span{start: 0, end: 7}) {
		t.Errorf("Merged span: got %v, want [0,7)", f.spans[0])
	}
	if got := f.buffered(0, 10); got != 7 {
		t.Errorf("buffered: got %d, want 7", got)
	}
}

func TestFragmentBuffer_Grow(t *testing.T) {
	f := newFragmentBuffer(4)
	if err := f.add(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// Writing past the arena grows it and keeps earlier content.
	if err := f.add(4, []byte{5, 6}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	got, ok := f.slice(0, 6)
	if !ok || !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("slice after grow: got %v, %v", got, ok)
	}
}

func TestFragmentBuffer_Validation(t *testing.T) {
	f := newFragmentBuffer(8)
	if err := f.add(-1, []byte{1}); err == nil {
		t.Error("Negative offset should be rejected")
	}
	if err := f.add(0, nil); err == nil {
		t.Error("Empty data should be rejected")
	}
}

func TestFragmentBuffer_Wipe(t *testing.T) {
	f := newFragmentBuffer(8)
	if err := f.add(0, []byte{0xFF, 0xFF}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	f.wipe()
	if len(f.spans) != 0 {
		t.Error("Spans should be forgotten")
	}
	if !bytes.Equal(f.arena, make([]byte, 8)) {
		t.Error("Arena not zeroized")
	}
}
