package generator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/util"
)

// aliasSingle matches "Eth<m>/<p>".
var aliasSingle = regexp.MustCompile(`^Eth(\d+)/(\d+)$`)

// aliasBreakout matches "Eth<m>/<p>/<s>".
var aliasBreakout = regexp.MustCompile(`^Eth(\d+)/(\d+)/(\d+)$`)

// canonical matches "Ethernet<k>".
var canonical = regexp.MustCompile(`^Ethernet(\d+)$`)

// buildInterfaceIndex cross-references an Inventory alias name with its
// canonical SONiC name and vice versa (spec §4.4.1). It also detects
// breakout coexistence: an alias-form interface name (e.g. "Eth1/1/1") and
// a canonical-form interface name (e.g. "Ethernet0") both present on the
// same device and resolving to the same canonical port. Rather than
// silently letting one clobber the other in byCanonical, this is reported
// as a validation error so the conflicting inventory data gets fixed.
func buildInterfaceIndex(ifaces []*model.Interface, ports []PortConfig) (map[string]string, map[string]string, error) {
	byAlias := map[string]string{}
	byCanonical := map[string]string{}
	owners := map[string][]string{}
	for _, iface := range ifaces {
		canon, ok := ToCanonical(iface.Name, speedClass(iface))
		if !ok {
			continue
		}
		byAlias[iface.Name] = canon
		byCanonical[canon] = iface.Name
		owners[canon] = append(owners[canon], iface.Name)
	}
	if err := detectBreakoutCoexistence(owners); err != nil {
		return nil, nil, err
	}
	return byAlias, byCanonical, nil
}

// detectBreakoutCoexistence raises a validation error naming every
// canonical port reachable from more than one distinct interface name on
// the device (spec §9 Open Question: aliases and canonicals for the same
// physical port MUST NOT silently coexist).
func detectBreakoutCoexistence(owners map[string][]string) error {
	var b util.ValidationBuilder
	canonNames := make([]string, 0, len(owners))
	for canon := range owners {
		canonNames = append(canonNames, canon)
	}
	sort.Strings(canonNames)
	for _, canon := range canonNames {
		names := owners[canon]
		if len(names) < 2 {
			continue
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		b.AddErrorf("interfaces %v all resolve to canonical port %s: alias and canonical interface names must not coexist for the same port", sorted, canon)
	}
	return b.Build()
}

func speedClass(iface *model.Interface) bool {
	return highSpeedKbps[iface.SpeedKbps]
}

// ToCanonical maps an Inventory interface name to its canonical SONiC name.
// highSpeed indicates whether the parent physical port runs at one of the
// 100/200/400/800 Gbps speeds (spec §4.4.1: selects M=4 vs M=1).
func ToCanonical(name string, highSpeed bool) (string, bool) {
	if m := canonical.FindStringSubmatch(name); m != nil {
		return name, true
	}
	if m := aliasBreakout.FindStringSubmatch(name); m != nil {
		p, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		masterPort := (p - 1) * laneStride(highSpeed)
		return fmt.Sprintf("Ethernet%d", masterPort+(s-1)), true
	}
	if m := aliasSingle.FindStringSubmatch(name); m != nil {
		p, _ := strconv.Atoi(m[2])
		k := (p - 1) * laneStride(highSpeed)
		return fmt.Sprintf("Ethernet%d", k), true
	}
	return "", false
}

func laneStride(highSpeed bool) int {
	if highSpeed {
		return 4
	}
	return 1
}

// ToAlias reverse-maps a canonical SONiC name back to its Inventory alias
// shape, given the module number and whether the port is a breakout
// member (spec §4.4.1 "reverse mapping").
func ToAlias(canonicalName string, module int, isBreakoutMember bool, subport int, highSpeed bool) (string, bool) {
	m := canonical.FindStringSubmatch(canonicalName)
	if m == nil {
		return "", false
	}
	k, _ := strconv.Atoi(m[1])
	stride := laneStride(highSpeed)
	masterK := k - (k % stride)
	p := masterK/stride + 1
	if isBreakoutMember {
		return fmt.Sprintf("Eth%d/%d/%d", module, p, subport), true
	}
	return fmt.Sprintf("Eth%d/%d", module, p), true
}
