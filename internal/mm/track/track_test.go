package track

import "testing"

var tagAbcd = [4]byte{'A', 'b', 'c', 'd'}

func TestAllocateFreeUpdatesCurrentAndPeak(t *testing.T) {
	tr := NewTracker()
	tr.Allocate(tagAbcd, 32)
	tr.Allocate(tagAbcd, 32)

	s := tr.Get(tagAbcd)
	if s.CurrentAllocations != 2 || s.CurrentBytes != 64 {
		t.Fatalf("after two allocates: %+v", s)
	}
	if s.PeakAllocations != 2 || s.PeakBytes != 64 {
		t.Fatalf("peak should track the high-water mark: %+v", s)
	}

	tr.Free(tagAbcd, 32)
	s = tr.Get(tagAbcd)
	if s.CurrentAllocations != 1 || s.CurrentBytes != 32 {
		t.Fatalf("after one free: %+v", s)
	}
	if s.PeakAllocations != 2 || s.PeakBytes != 64 {
		t.Fatalf("peak should not decay on free: %+v", s)
	}
}

func TestDistinctTagsTrackedIndependently(t *testing.T) {
	tr := NewTracker()
	tagWxyz := [4]byte{'W', 'x', 'y', 'z'}
	tr.Allocate(tagAbcd, 16)
	tr.Allocate(tagWxyz, 48)

	if tr.Get(tagAbcd).CurrentBytes != 16 {
		t.Fatal("tag Abcd bytes should be unaffected by tag Wxyz allocations")
	}
	if tr.Get(tagWxyz).CurrentBytes != 48 {
		t.Fatal("tag Wxyz bytes wrong")
	}
	if len(tr.Snapshot()) != 2 {
		t.Fatalf("expected 2 distinct tag entries, got %d", len(tr.Snapshot()))
	}
}

func TestFreeNeverUnderflows(t *testing.T) {
	tr := NewTracker()
	tr.Free(tagAbcd, 100)
	s := tr.Get(tagAbcd)
	if s.CurrentAllocations != 0 || s.CurrentBytes != 0 {
		t.Fatalf("freeing from an empty tag should clamp at zero, got %+v", s)
	}
}
