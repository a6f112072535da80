package generator

// breakoutModes maps a master physical port's speed (Kbps) to the SONiC
// BREAKOUT_CFG mode string (spec §4.4.2).
var breakoutModes = map[int64]string{
	100_000_000: "4x25G",
	200_000_000: "4x50G",
	400_000_000: "4x100G",
	800_000_000: "4x200G",
}

// BreakoutGroup is four subports sharing one physical master port.
type BreakoutGroup struct {
	MasterIndex int
	MasterSpeed int64
	Mode        string
	Subports    []PortConfig // exactly 4, in subport order
}

// DetectBreakouts partitions a SKU's port list into breakout groups and the
// remaining non-broken-out ports (spec §4.4.2). A group is recognized only
// when four consecutive port indexes (k, k+1, k+2, k+3 with k%4==0) are all
// present and each runs at a high speed with a known breakout mode. Port
// aliases (e.g. "Eth1/1/1") are not examined when forming groups.
func DetectBreakouts(ports []PortConfig) ([]BreakoutGroup, map[int]bool) {
	byIndex := map[int]PortConfig{}
	for _, p := range ports {
		byIndex[p.Index] = p
	}

	consumed := map[int]bool{}
	var groups []BreakoutGroup

	for _, p := range ports {
		if p.Index%4 != 0 || consumed[p.Index] {
			continue
		}
		members := make([]PortConfig, 0, 4)
		ok := true
		for i := 0; i < 4; i++ {
			m, present := byIndex[p.Index+i]
			if !present || !highSpeedKbps[m.Speed] {
				ok = false
				break
			}
			members = append(members, m)
		}
		if !ok || !highSpeedKbps[members[0].Speed] {
			continue
		}
		mode, known := breakoutModes[members[0].Speed]
		if !known {
			continue
		}
		for _, m := range members {
			consumed[m.Index] = true
		}
		groups = append(groups, BreakoutGroup{
			MasterIndex: members[0].Index,
			MasterSpeed: members[0].Speed,
			Mode:        mode,
			Subports:    partitionLanes(members),
		})
	}

	return groups, consumed
}

// partitionLanes assigns each of the four subports one contiguous slice of
// the master's lane list: two lanes each for an 8-lane master, one lane
// each otherwise (spec §4.4.2).
func partitionLanes(members []PortConfig) []PortConfig {
	masterLanes := members[0].Lanes
	lanesPer := len(masterLanes) / 4
	if lanesPer < 1 {
		lanesPer = 1
	}
	out := make([]PortConfig, len(members))
	for i, m := range members {
		start := i * lanesPer
		end := start + lanesPer
		if end > len(masterLanes) {
			end = len(masterLanes)
		}
		m.Lanes = append([]int(nil), masterLanes[start:end]...)
		out[i] = m
	}
	return out
}
