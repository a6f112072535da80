package generator

import (
	"fmt"

	"github.com/fabricwright/conductor/internal/model"
)

// populateBFD emits BFD_PROFILE and BFD_PEER (spec §4.4.4). The BFD field
// name follows the original SONiC schema's required_min_rx rather than
// spec.md's desired_min_rx — see SPEC_FULL.md's resolution note.
func (g *Generator) populateBFD(doc Document, ifaces []*model.Interface, graph *model.Graph, bgpEligible map[string]bool, byCanonical map[string]string) {
	doc["BFD_PROFILE"] = map[string]any{
		"default": map[string]any{
			"detect_multiplier": "3",
			"desired_min_tx":    "300",
			"required_min_rx":   "300",
			"passive_mode":      false,
		},
	}

	byID := map[string]*model.Interface{}
	for _, iface := range ifaces {
		byID[iface.ID] = iface
	}

	peers := map[string]any{}
	for ifaceName := range bgpEligible {
		iface := findByName(ifaces, ifaceName)
		if iface == nil || iface.IsLAGMember() {
			continue
		}
		peerDevice := peerRole(graph, iface)
		if peerDevice == nil || !bfdEligibleRoles[peerDevice.Role] {
			continue
		}
		key := fmt.Sprintf("default|%s", ifaceName)
		peers[key] = map[string]any{
			"local_addr": "",
			"multihop":   false,
			"profile":    "default",
		}
	}
	doc["BFD_PEER"] = peers
}

func findByName(ifaces []*model.Interface, name string) *model.Interface {
	for _, iface := range ifaces {
		if iface.Name == name {
			return iface
		}
	}
	return nil
}

func peerRole(graph *model.Graph, iface *model.Interface) *model.Device {
	peerIfaceID := graph.CablePeer(iface.ID)
	if peerIfaceID == "" {
		return nil
	}
	peerIface, ok := graph.Interfaces[peerIfaceID]
	if !ok {
		return nil
	}
	return graph.Devices[peerIface.DeviceID]
}
