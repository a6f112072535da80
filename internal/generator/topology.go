package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fabricwright/conductor/internal/model"
)

// populateVLANs emits VLAN, VLAN_MEMBER, and VLAN_INTERFACE sections from
// every interface's untagged/tagged VLAN bindings.
func populateVLANs(doc Document, ifaces []*model.Interface, graph *model.Graph) {
	vlanIDs := map[int]bool{}
	members := map[int]map[string]string{} // vlan -> interface -> tagging_mode
	vlanIfaceIPs := map[int][]string{}

	for _, iface := range ifaces {
		if iface.UntaggedVLAN != 0 {
			vlanIDs[iface.UntaggedVLAN] = true
			addMember(members, iface.UntaggedVLAN, iface.Name, "untagged")
		}
		for _, v := range iface.TaggedVLANs {
			vlanIDs[v] = true
			addMember(members, v, iface.Name, "tagged")
		}
		if iface.IsSVI() {
			id := sviID(iface.Name)
			if id != 0 {
				vlanIDs[id] = true
				for _, ip := range graph.InterfaceIPs(iface.ID) {
					vlanIfaceIPs[id] = append(vlanIfaceIPs[id], ip.Address)
				}
			}
		}
	}

	ids := make([]int, 0, len(vlanIDs))
	for id := range vlanIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	vlanTable := map[string]any{}
	vlanMemberTable := map[string]any{}
	vlanIfaceTable := map[string]any{}
	for _, id := range ids {
		name := fmt.Sprintf("Vlan%d", id)
		vlanTable[name] = map[string]any{"vlanid": fmt.Sprintf("%d", id)}
		for ifaceName, mode := range members[id] {
			vlanMemberTable[name+"|"+ifaceName] = map[string]any{"tagging_mode": mode}
		}
		if addrs, ok := vlanIfaceIPs[id]; ok {
			sort.Strings(addrs)
			for _, addr := range addrs {
				vlanIfaceTable[name+"|"+addr] = map[string]any{}
			}
			if len(addrs) == 0 {
				vlanIfaceTable[name] = map[string]any{}
			}
		}
	}
	doc["VLAN"] = vlanTable
	doc["VLAN_MEMBER"] = vlanMemberTable
	doc["VLAN_INTERFACE"] = vlanIfaceTable
}

func addMember(members map[int]map[string]string, vlan int, iface, mode string) {
	if members[vlan] == nil {
		members[vlan] = map[string]string{}
	}
	members[vlan][iface] = mode
}

func sviID(name string) int {
	var id int
	_, err := fmt.Sscanf(name, "Vlan%d", &id)
	if err != nil {
		return 0
	}
	return id
}

// populateVRFs emits the VRF table from the distinct VRF names bound to any
// interface.
func populateVRFs(doc Document, ifaces []*model.Interface) {
	vrfs := map[string]bool{}
	for _, iface := range ifaces {
		if iface.VRF != "" {
			vrfs[iface.VRF] = true
		}
	}
	table := map[string]any{}
	for name := range vrfs {
		table[name] = map[string]any{}
	}
	doc["VRF"] = table
}

// populatePortChannels emits PORTCHANNEL, PORTCHANNEL_MEMBER, and
// PORTCHANNEL_INTERFACE sections from LAG-parent/LAG-member bindings.
func populatePortChannels(doc Document, ifaces []*model.Interface, byCanonical map[string]string) {
	pcTable := map[string]any{}
	pcMembers := map[string][]string{}
	pcIfaceTable := map[string]any{}

	byID := map[string]*model.Interface{}
	for _, iface := range ifaces {
		byID[iface.ID] = iface
	}

	for _, iface := range ifaces {
		if !iface.IsLAGMember() {
			continue
		}
		parent, ok := byID[iface.LAGParent]
		if !ok {
			continue
		}
		pcTable[parent.Name] = map[string]any{"admin_status": "up"}
		pcMembers[parent.Name] = append(pcMembers[parent.Name], iface.Name)
		if parent.VRF != "" {
			pcIfaceTable[parent.Name] = map[string]any{"vrf_name": parent.VRF}
		}
	}

	pcMemberTable := map[string]any{}
	for pc, members := range pcMembers {
		sort.Strings(members)
		for _, m := range members {
			pcMemberTable[pc+"|"+m] = map[string]any{}
		}
	}

	doc["PORTCHANNEL"] = pcTable
	doc["PORTCHANNEL_MEMBER"] = pcMemberTable
	doc["PORTCHANNEL_INTERFACE"] = pcIfaceTable
}

// populateLoopbacks emits LOOPBACK and LOOPBACK_INTERFACE sections.
func populateLoopbacks(doc Document, ifaces []*model.Interface, graph *model.Graph) {
	loTable := map[string]any{}
	loIfaceTable := map[string]any{}
	for _, iface := range ifaces {
		if !iface.IsLoopback() {
			continue
		}
		loTable[iface.Name] = map[string]any{}
		addrs := graph.InterfaceIPs(iface.ID)
		sort.Slice(addrs, func(i, j int) bool { return addrs[i].Address < addrs[j].Address })
		for _, ip := range addrs {
			loIfaceTable[iface.Name+"|"+ip.Address] = map[string]any{}
		}
	}
	doc["LOOPBACK"] = loTable
	doc["LOOPBACK_INTERFACE"] = loIfaceTable
}

// populateMgmtInterface emits MGMT_INTERFACE from the OOB/management
// interface, identified by MgmtOnly.
func populateMgmtInterface(doc Document, ifaces []*model.Interface, graph *model.Graph) {
	table := map[string]any{}
	for _, iface := range ifaces {
		if !iface.MgmtOnly {
			continue
		}
		for _, ip := range graph.InterfaceIPs(iface.ID) {
			key := "eth0|" + ip.Address
			gw := ""
			if idx := strings.LastIndex(ip.Address, "/"); idx > 0 {
				gw = ip.Address[:idx]
			}
			table[key] = map[string]any{"gwaddr": gw}
		}
	}
	doc["MGMT_INTERFACE"] = table
}
