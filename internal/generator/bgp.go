package generator

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/util"
)

// ComputeAS derives a device's AS number from the third and fourth octets
// of its primary IPv4 (spec §4.4.3): AS = 4200e6 + octet3*1e3 + octet4.
func ComputeAS(primaryIPv4 string) (int64, bool) {
	addr, _ := util.SplitIPMask(primaryIPv4)
	if !util.IsValidIPv4(addr) {
		return 0, false
	}
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return 0, false
	}
	return 4_200_000_000 + int64(ip[2])*1000 + int64(ip[3]), true
}

// GroupSpines partitions the spine/superspine devices in graph into
// connected components (by direct cable adjacency restricted to those
// roles) and assigns each component the minimum per-device AS among its
// members (spec §4.4.3 "iBGP inside the spine fabric").
func GroupSpines(graph *model.Graph) ASAssignment {
	adjacency := map[string][]string{}
	candidates := map[string]bool{}
	for id, d := range graph.Devices {
		if spineRoles[d.Role] {
			candidates[id] = true
		}
	}
	for _, cable := range graph.Cables {
		a, aok := graph.Interfaces[cable.A]
		b, bok := graph.Interfaces[cable.B]
		if !aok || !bok {
			continue
		}
		if candidates[a.DeviceID] && candidates[b.DeviceID] && a.DeviceID != b.DeviceID {
			adjacency[a.DeviceID] = append(adjacency[a.DeviceID], b.DeviceID)
			adjacency[b.DeviceID] = append(adjacency[b.DeviceID], a.DeviceID)
		}
	}

	result := ASAssignment{}
	visited := map[string]bool{}
	ids := sortedKeys(candidates)
	for _, start := range ids {
		if visited[start] {
			continue
		}
		component := bfs(start, adjacency)
		var min int64 = -1
		names := make([]string, 0, len(component))
		for _, id := range component {
			visited[id] = true
			d := graph.Devices[id]
			names = append(names, d.Name)
			as, ok := ComputeAS(d.PrimaryIPv4)
			if !ok {
				continue
			}
			if min == -1 || as < min {
				min = as
			}
		}
		if min == -1 {
			continue
		}
		for _, name := range names {
			result[name] = min
		}
	}
	return result
}

func bfs(start string, adjacency map[string][]string) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		neighbors := append([]string(nil), adjacency[cur]...)
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolveAS resolves the AS to use for d: the pre-computed spine/superspine
// group share if present, else the device's own IPv4-derived AS (spec
// §4.4.3, SPEC_FULL.md peerType fallback).
func resolveAS(d *model.Device, groups ASAssignment) int64 {
	if as, ok := groups[d.Name]; ok {
		return as
	}
	as, _ := ComputeAS(d.PrimaryIPv4)
	return as
}

// peerType determines internal vs external BGP per spec §4.4.3: equal
// local/remote AS is internal (iBGP), otherwise external (eBGP). Grounded
// on original_source's _determine_peer_type, including its fallback to a
// direct IPv4-derived AS for a peer absent from the spine-group mapping.
func peerType(localAS int64, peer *model.Device, groups ASAssignment) string {
	remoteAS := resolveAS(peer, groups)
	if remoteAS == localAS {
		return "internal"
	}
	return "external"
}

// peerTypeForInterface resolves the device at the other end of iface's
// cable (if any) and classifies the neighbor via peerType, defaulting to
// "external" when no peer device is discoverable (spec §4.4.3 edge case:
// a transfer link to an unmanaged or not-yet-onboarded device).
func peerTypeForInterface(graph *model.Graph, iface *model.Interface, localAS int64, groups ASAssignment) string {
	peerIfaceID := graph.CablePeer(iface.ID)
	if peerIfaceID == "" {
		return "external"
	}
	peerIface, ok := graph.Interfaces[peerIfaceID]
	if !ok {
		return "external"
	}
	peerDevice, ok := graph.Devices[peerIface.DeviceID]
	if !ok {
		return "external"
	}
	return peerType(localAS, peerDevice, groups)
}

// populateBGP emits BGP_GLOBALS, BGP_GLOBALS_AF_NETWORK, BGP_NEIGHBOR, and
// BGP_NEIGHBOR_AF. It returns the set of interface/port-channel names that
// received a neighbor, for BFD eligibility (spec §4.4.4).
func (g *Generator) populateBGP(doc Document, d *model.Device, ifaces []*model.Interface, graph *model.Graph, as int64, groups ASAssignment, byCanonical map[string]string) map[string]bool {
	routerID := firstNonEmpty(stripMask(d.PrimaryIPv4), stripMask(d.PrimaryIPv6))
	doc["BGP_GLOBALS"] = map[string]any{
		"default": map[string]any{
			"router_id": routerID,
			"local_asn": strconv.FormatInt(as, 10),
		},
	}

	afNetworks := map[string]any{}
	for _, iface := range ifaces {
		if !iface.IsLoopback() {
			continue
		}
		for _, ip := range graph.InterfaceIPs(iface.ID) {
			family := "ipv4_unicast"
			if ip.Family == 6 {
				family = "ipv6_unicast"
			}
			key := fmt.Sprintf("default|%s|%s", family, ip.Address)
			afNetworks[key] = map[string]any{}
		}
	}
	doc["BGP_GLOBALS_AF_NETWORK"] = afNetworks

	neighbors := map[string]any{}
	neighborAF := map[string]any{}
	bfdEligible := map[string]bool{}

	emit := func(ifaceName, neighborKey string, v6only bool, pt string) {
		neighbors[neighborKey] = map[string]any{
			"name":      ifaceName,
			"v6only":    v6only,
			"peer_type": pt,
		}
		neighborAF[neighborKey+"|ipv4_unicast"] = map[string]any{}
		bfdEligible[ifaceName] = true
	}

	for _, iface := range ifaces {
		if iface.IsLAGMember() || iface.IsSVI() || iface.IsLoopback() || !iface.Connected() {
			continue
		}
		if iface.UntaggedVLAN != 0 {
			continue
		}
		ips := graph.InterfaceIPs(iface.ID)
		transferIP, hasTransfer := findTransferIP(ips)
		pt := peerTypeForInterface(graph, iface, as, groups)
		switch {
		case hasTransfer:
			peerAddr := peerIPv4(graph, iface, transferIP)
			key := peerAddr
			if key == "" {
				key = iface.Name
			}
			emit(iface.Name, key, false, pt)
		case len(ips) == 0:
			emit(iface.Name, iface.Name, true, pt)
		}
	}

	doc["BGP_NEIGHBOR"] = neighbors
	doc["BGP_NEIGHBOR_AF"] = neighborAF
	return bfdEligible
}

func findTransferIP(ips []*model.IPAddress) (*model.IPAddress, bool) {
	for _, ip := range ips {
		if ip.PrefixRole == "transfer" && ip.Family == 4 {
			return ip, true
		}
	}
	return nil, false
}

// peerIPv4 resolves the cable peer's IPv4 address for neighbor keying,
// falling back to "" (keyed by interface name instead) when undiscoverable
// (spec §4.4.3).
func peerIPv4(graph *model.Graph, iface *model.Interface, localIP *model.IPAddress) string {
	peerIfaceID := graph.CablePeer(iface.ID)
	if peerIfaceID == "" {
		return ""
	}
	for _, ip := range graph.InterfaceIPs(peerIfaceID) {
		if ip.Family == 4 {
			return stripMask(ip.Address)
		}
	}
	return ""
}

func stripMask(cidr string) string {
	addr, _ := util.SplitIPMask(cidr)
	return addr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
