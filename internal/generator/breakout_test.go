package generator

import (
	"fmt"
	"testing"
)

func eightLanePorts(masterIndex int, speed int64) []PortConfig {
	ports := make([]PortConfig, 4)
	for i := 0; i < 4; i++ {
		ports[i] = PortConfig{
			Name:  fmt.Sprintf("Ethernet%d", masterIndex+i),
			Index: masterIndex + i,
			Lanes: []int{masterIndex*4 + i*2, masterIndex*4 + i*2 + 1},
			Speed: speed,
		}
	}
	// The master port alone carries the full 8-lane set pre-breakout.
	ports[0].Lanes = []int{0, 1, 2, 3, 4, 5, 6, 7}
	return ports
}

func TestDetectBreakouts(t *testing.T) {
	ports := eightLanePorts(0, 100_000_000)
	groups, consumed := DetectBreakouts(ports)

	if len(groups) != 1 {
		t.Fatalf("DetectBreakouts() returned %d groups, want 1", len(groups))
	}
	grp := groups[0]
	if grp.Mode != "4x25G" {
		t.Errorf("group mode = %q, want %q", grp.Mode, "4x25G")
	}
	if len(grp.Subports) != 4 {
		t.Fatalf("group has %d subports, want 4", len(grp.Subports))
	}
	for i := 0; i < 4; i++ {
		if !consumed[i] {
			t.Errorf("port index %d should be marked consumed", i)
		}
	}
}

func TestDetectBreakouts_NoBreakoutAtNonQuadSpeed(t *testing.T) {
	ports := []PortConfig{
		{Name: "Ethernet0", Index: 0, Lanes: []int{0}, Speed: 10_000_000},
		{Name: "Ethernet1", Index: 1, Lanes: []int{1}, Speed: 10_000_000},
		{Name: "Ethernet2", Index: 2, Lanes: []int{2}, Speed: 10_000_000},
		{Name: "Ethernet3", Index: 3, Lanes: []int{3}, Speed: 10_000_000},
	}
	groups, consumed := DetectBreakouts(ports)
	if len(groups) != 0 {
		t.Errorf("DetectBreakouts() on non-high-speed ports returned %d groups, want 0", len(groups))
	}
	if len(consumed) != 0 {
		t.Errorf("DetectBreakouts() marked %d ports consumed, want 0", len(consumed))
	}
}

func TestPartitionLanes(t *testing.T) {
	master := PortConfig{Index: 0, Lanes: []int{0, 1, 2, 3, 4, 5, 6, 7}}
	members := []PortConfig{
		{Index: 0}, {Index: 1}, {Index: 2}, {Index: 3},
	}
	members[0].Lanes = master.Lanes

	out := partitionLanes(members)
	if len(out) != 4 {
		t.Fatalf("partitionLanes() returned %d entries, want 4", len(out))
	}

	seen := map[int]bool{}
	for i, m := range out {
		if len(m.Lanes) != 2 {
			t.Errorf("subport %d has %d lanes, want 2", i, len(m.Lanes))
		}
		for _, lane := range m.Lanes {
			if seen[lane] {
				t.Errorf("lane %d assigned to more than one subport", lane)
			}
			seen[lane] = true
		}
	}
	if len(seen) != 8 {
		t.Errorf("partitionLanes() covered %d distinct lanes, want 8", len(seen))
	}
}
