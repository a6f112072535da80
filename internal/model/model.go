// Package model defines the shared data model for devices, interfaces, and
// addresses as read from the Inventory.
package model

// Device is an Inventory device record. The core never deletes a Device.
type Device struct {
	ID          string
	Name        string
	Role        string
	PrimaryIPv4 string // CIDR, e.g. "192.168.45.123/32"
	PrimaryIPv6 string
	OOBIP       string // CIDR
	Tags        []string
	Driver      string // "ipmi" | "redfish"
	Interfaces  []string // interface IDs belonging to this device
	CustomFields CustomFields
}

// HasTag reports whether the device carries the given tag.
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ManagedByAgent reports whether the device carries a managed-by-<agent> tag.
func (d *Device) ManagedByAgent(agent string) bool {
	return d.HasTag("managed-by-" + agent)
}

// Interface belongs to exactly one Device.
type Interface struct {
	ID         string
	DeviceID   string
	Name       string
	Type       string // "100base-fx", "100gbase-x", "lag", "virtual", ...
	SpeedKbps  int64  // optional override of type-derived speed; 0 = unset
	MACAddress string
	MgmtOnly   bool
	Enabled    bool
	LAGParent  string // interface ID of parent LAG, "" if none
	VRF        string // VRF name, "" if none

	UntaggedVLAN int   // 0 if none
	TaggedVLANs  []int // sorted ascending

	CableID string // "" if not cable-connected
}

// IsLAGMember reports whether this interface is a member of a LAG.
func (i *Interface) IsLAGMember() bool { return i.LAGParent != "" }

// IsSVI reports whether this is a VLAN interface (e.g. "Vlan100").
func (i *Interface) IsSVI() bool {
	return len(i.Name) > 4 && i.Name[:4] == "Vlan"
}

// IsLoopback reports whether this is a loopback interface (e.g. "Loopback0").
func (i *Interface) IsLoopback() bool {
	return len(i.Name) >= 8 && i.Name[:8] == "Loopback"
}

// Connected reports whether the interface is cable-connected or a LAG member.
func (i *Interface) Connected() bool {
	return i.CableID != "" || i.IsLAGMember()
}

// IPAddress belongs to one Interface, or is unassigned.
type IPAddress struct {
	ID          string
	InterfaceID string
	Address     string // CIDR form
	Family      int    // 4 or 6
	PrefixRole  string // e.g. "transfer"; "" if none
}

// Cable links two interfaces by ID. Direction is not meaningful.
type Cable struct {
	ID  string
	A   string // interface ID
	B   string // interface ID
}

// Graph is the cyclic Device<->Interface<->Cable graph, modeled as id-keyed
// maps rather than pointers so traversal never has to reason about ownership
// cycles (see DESIGN.md).
type Graph struct {
	Devices    map[string]*Device
	Interfaces map[string]*Interface
	Cables     map[string]*Cable
	IPs        map[string]*IPAddress // keyed by IP id
}

// NewGraph returns an empty, initialized Graph.
func NewGraph() *Graph {
	return &Graph{
		Devices:    map[string]*Device{},
		Interfaces: map[string]*Interface{},
		Cables:     map[string]*Cable{},
		IPs:        map[string]*IPAddress{},
	}
}

// DeviceInterfaces returns all interfaces belonging to a device, in the
// order they were added to the graph.
func (g *Graph) DeviceInterfaces(deviceID string) []*Interface {
	d, ok := g.Devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]*Interface, 0, len(d.Interfaces))
	for _, id := range d.Interfaces {
		if iface, ok := g.Interfaces[id]; ok {
			out = append(out, iface)
		}
	}
	return out
}

// InterfaceIPs returns all IP addresses assigned to an interface.
func (g *Graph) InterfaceIPs(interfaceID string) []*IPAddress {
	var out []*IPAddress
	for _, ip := range g.IPs {
		if ip.InterfaceID == interfaceID {
			out = append(out, ip)
		}
	}
	return out
}

// CablePeer returns the interface ID at the other end of the cable attached
// to the given interface, or "" if the interface is not cable-connected.
func (g *Graph) CablePeer(interfaceID string) string {
	iface, ok := g.Interfaces[interfaceID]
	if !ok || iface.CableID == "" {
		return ""
	}
	cable, ok := g.Cables[iface.CableID]
	if !ok {
		return ""
	}
	if cable.A == interfaceID {
		return cable.B
	}
	if cable.B == interfaceID {
		return cable.A
	}
	return ""
}
