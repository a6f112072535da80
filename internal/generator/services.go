package generator

import (
	"context"
	"net"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/util"
)

// metalboxIndex is the process-local, sweep-scoped cache of metalbox-role
// device interface IPs, bulk-loaded once per sweep (spec §4.4.5, §5, §9).
type metalboxIndex struct {
	nets []metalboxEntry
}

type metalboxEntry struct {
	network string // widened CIDR, e.g. "10.0.0.0/24"
	ipv4    string
}

// loadMetalboxIndex bulk-loads every metalbox-role device's interface IPs
// across the managed set, grounded on SPEC_FULL.md's bulk metalbox cache
// algorithm (original_source's per-sweep service discovery).
func (g *Generator) loadMetalboxIndex(ctx context.Context, devices []*model.Device) error {
	idx := &metalboxIndex{}
	for _, d := range devices {
		if d.Role != "metalbox" {
			continue
		}
		graph, err := g.inv.Graph(ctx, "", d.ID)
		if err != nil {
			return errs.NewTransient("inventory.graph(metalbox)", err)
		}
		for _, iface := range graph.DeviceInterfaces(d.ID) {
			for _, ip := range graph.InterfaceIPs(iface.ID) {
				if ip.Family != 4 {
					continue
				}
				if !util.IsValidIPv4CIDR(ip.Address) {
					continue
				}
				idx.nets = append(idx.nets, metalboxEntry{network: widenToNetwork(ip.Address), ipv4: stripMask(ip.Address)})
			}
		}
	}
	g.metalboxIndex = idx
	return nil
}

// widenToNetwork turns a host CIDR ("10.0.0.5/24") into its network CIDR
// ("10.0.0.0/24") so net.ParseCIDR reports the containing subnet.
func widenToNetwork(cidr string) string {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return cidr
	}
	return ipnet.String()
}

// findMetalboxService returns the IPv4 of a metalbox device whose
// interface sits in the same subnet as oobIP, matching by subnet
// containment (spec §4.4.5). Returns "" if none found.
func (g *Generator) findMetalboxService(oobIP string) string {
	if g.metalboxIndex == nil {
		return ""
	}
	host := stripMask(oobIP)
	if !util.IsValidIPv4(host) {
		return ""
	}
	for _, entry := range g.metalboxIndex.nets {
		if util.IPInRange(host, entry.network) {
			return entry.ipv4
		}
	}
	return ""
}

// populateServices emits NTP_SERVER and DNS_NAMESERVER: each switch
// receives exactly one of each, the metalbox IPv4 found by OOB-subnet
// containment, or neither if none found (spec §4.4.5).
func (g *Generator) populateServices(ctx context.Context, doc Document, d *model.Device) error {
	addr := g.findMetalboxService(d.OOBIP)
	ntp := map[string]any{}
	dns := map[string]any{}
	if addr != "" {
		ntp[addr] = map[string]any{}
		dns[addr] = map[string]any{}
	}
	doc["NTP_SERVER"] = ntp
	doc["DNS_NAMESERVER"] = dns
	return nil
}
