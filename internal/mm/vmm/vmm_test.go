package vmm

import "testing"

func TestMapUnmapRoundTrip(t *testing.T) {
	m := NewMap(4096)
	if err := m.MapPage(0x1000, 7, Write); err != nil {
		t.Fatalf("MapPage() error: %v", err)
	}
	if phys, ok := m.PhysicalOf(0x1000); !ok || phys != 7 {
		t.Fatalf("PhysicalOf() = (%d, %v), want (7, true)", phys, ok)
	}
	if err := m.UnmapPage(0x1000); err != nil {
		t.Fatalf("UnmapPage() error: %v", err)
	}
	if _, ok := m.PhysicalOf(0x1000); ok {
		t.Fatal("address should be unmapped after round trip")
	}
}

func TestMapPageRejectsWriteExec(t *testing.T) {
	m := NewMap(4096)
	if err := m.MapPage(0x1000, 1, Write|Exec); err != ErrWriteExec {
		t.Fatalf("MapPage(Write|Exec) error = %v, want ErrWriteExec", err)
	}
}

func TestMapPageRejectsDoubleMap(t *testing.T) {
	m := NewMap(4096)
	m.MapPage(0x1000, 1, Write)
	if err := m.MapPage(0x1000, 2, Write); err != ErrAlreadyMapped {
		t.Fatalf("second MapPage() error = %v, want ErrAlreadyMapped", err)
	}
}

func TestUnmapUnmappedAddressErrors(t *testing.T) {
	m := NewMap(4096)
	if err := m.UnmapPage(0x2000); err != ErrNotMapped {
		t.Fatalf("UnmapPage() error = %v, want ErrNotMapped", err)
	}
}

func TestUnmapInsideHugePageIsNoOp(t *testing.T) {
	m := NewMap(4096)
	if err := m.MapHuge(0x0, 1, 4, Write); err != nil {
		t.Fatalf("MapHuge() error: %v", err)
	}
	// An address strictly inside the huge mapping, not the base.
	if err := m.UnmapPage(0x2000); err != nil {
		t.Fatalf("UnmapPage() inside huge mapping error = %v, want nil", err)
	}
	if _, ok := m.PhysicalOf(0x0); !ok {
		t.Fatal("huge mapping should survive an interior unmap attempt")
	}
}
