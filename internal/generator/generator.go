// Package generator implements the Configuration Generator (spec §4.4): a
// pure-modulo-Inventory-reads function that renders a complete SONiC
// configuration document for one switch Device. Grounded on the teacher's
// pkg/newtron/device/sonic ConfigDB modeling (extracted before deletion,
// see DESIGN.md) and original_source's deterministic-config-rendering
// discipline.
package generator

import (
	"context"
	"fmt"
	"sort"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
)

// bfdEligibleRoles are the roles (node and switch) eligible for BFD peering
// (spec §4.4.4).
var bfdEligibleRoles = map[string]bool{
	"spine": true, "superspine": true, "leaf": true, "leaf-border": true,
	"compute": true, "storage": true, "manager": true, "metalbox": true,
}

// spineRoles are the roles participating in AS-sharing component analysis
// (spec §4.4.3).
var spineRoles = map[string]bool{"spine": true, "superspine": true}

// highSpeedKbps are the speeds (in Kbps) eligible for 4x-lane alias mapping
// and breakout (spec §4.4.1, §4.4.2): 100/200/400/800 Gbps.
var highSpeedKbps = map[int64]bool{
	100_000_000: true,
	200_000_000: true,
	400_000_000: true,
	800_000_000: true,
}

// Config is process-wide Generator configuration.
type Config struct {
	DefaultHWSKU   string
	RoleHWSKU      map[string]string // role -> default hwsku, used when custom_fields omits one
	PortConfigDirs map[string]string // hwsku -> path to its port_config.ini-style file
	ExportDir      string
	FilePrefix     string
	FileSuffix     string
}

// Generator renders SONiC configuration documents.
type Generator struct {
	inv inventory.Client
	cfg Config

	portConfigCache map[string][]PortConfig // hwsku -> ports, process-local per spec §9
	metalboxIndex   *metalboxIndex          // process-local, cleared at sweep start
}

// New builds a Generator.
func New(inv inventory.Client, cfg Config) *Generator {
	return &Generator{inv: inv, cfg: cfg, portConfigCache: map[string][]PortConfig{}}
}

// ResetSweepCaches clears the metalbox/NTP caches, required at the start of
// every sync run (spec §5, §9). The port-config cache is NOT cleared: it is
// keyed by hwsku and safe to reuse for the life of the process.
func (g *Generator) ResetSweepCaches() {
	g.metalboxIndex = nil
}

// ASAssignment is the pre-computed AS mapping described in spec §4.4
// Inputs: for every device in a spine/superspine connected component, the
// shared (minimum) AS number.
type ASAssignment map[string]int64 // device name -> shared AS, present only for grouped devices

// Generate renders the full configuration document for one Device.
func (g *Generator) Generate(ctx context.Context, d *model.Device, graph *model.Graph, asGroups ASAssignment) (Document, error) {
	if d.Role == "" {
		return nil, errs.NewValidation(d.Name, "device has no role")
	}

	hwsku := d.CustomFields.SonicParameters.HWSKU
	if hwsku == "" {
		hwsku = g.cfg.RoleHWSKU[d.Role]
	}
	if hwsku == "" {
		hwsku = g.cfg.DefaultHWSKU
	}
	if hwsku == "" {
		return nil, errs.NewValidation(d.Name, "no hwsku resolvable from custom_fields or role mapping")
	}

	ports, err := g.loadPortConfig(hwsku)
	if err != nil {
		return nil, errs.NewValidation(d.Name, fmt.Sprintf("loading port config for hwsku %s: %v", hwsku, err))
	}

	ifaces := graph.DeviceInterfaces(d.ID)
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })

	doc := newDocument()
	doc["DEVICE_METADATA"] = map[string]any{
		"localhost": map[string]any{"hostname": d.Name, "hwsku": hwsku},
	}
	doc["VERSION"] = map[string]any{"version": map[string]any{"version": d.CustomFields.SonicParameters.ConfigVersion}}

	byAlias, byCanonical, err := buildInterfaceIndex(ifaces, ports)
	if err != nil {
		return nil, errs.NewValidation(d.Name, err.Error())
	}

	as := resolveAS(d, asGroups)
	g.populatePorts(doc, ports, ifaces, byCanonical)
	populateVLANs(doc, ifaces, graph)
	populateVRFs(doc, ifaces)
	populatePortChannels(doc, ifaces, byCanonical)
	populateLoopbacks(doc, ifaces, graph)
	populateMgmtInterface(doc, ifaces, graph)

	ifaceTable := map[string]any{}
	for _, iface := range ifaces {
		if iface.IsLAGMember() || iface.IsSVI() || iface.IsLoopback() || iface.MgmtOnly || iface.Type == "lag" {
			continue
		}
		for _, ip := range graph.InterfaceIPs(iface.ID) {
			ifaceTable[iface.Name] = map[string]any{}
			ifaceTable[iface.Name+"|"+ip.Address] = map[string]any{}
		}
	}
	doc["INTERFACE"] = ifaceTable

	bgpNeighbors := g.populateBGP(doc, d, ifaces, graph, as, asGroups, byCanonical)
	g.populateBFD(doc, ifaces, graph, bgpNeighbors, byCanonical)

	if err := g.populateServices(ctx, doc, d); err != nil {
		return nil, err
	}

	doc["FEATURE"] = map[string]any{
		"bgp": map[string]any{"state": "enabled"},
		"bfd": map[string]any{"state": "enabled"},
	}

	_ = byAlias // retained for reverse lookups exercised by tests
	return doc, nil
}

// Document is the generator's nested output map (spec §4.4 "Output").
// Top-level keys are table names; values are table-specific nested maps.
type Document map[string]any

func newDocument() Document { return Document{} }
