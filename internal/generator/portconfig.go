package generator

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/util"
)

// PortConfig is one physical port entry from a HWSKU's port-config file:
// name, lanes, alias, index, speed, and optional valid-speed set (spec
// §4.4 Inputs).
type PortConfig struct {
	Name        string // canonical, e.g. "Ethernet0"
	Index       int
	Lanes       []int
	Alias       string
	Speed       int64 // Kbps
	ValidSpeeds []int64
}

// loadPortConfig reads (and caches, per-process, per spec §9) the port
// list for a HWSKU. The on-disk format is a whitespace-delimited table:
//
//	# name   lanes      alias    index  speed
//	Ethernet0  25,26,27,28  Eth1/1  0  100000000
//
// matching SONiC's port_config.ini convention referenced in spec §4.4.
func (g *Generator) loadPortConfig(hwsku string) ([]PortConfig, error) {
	if cached, ok := g.portConfigCache[hwsku]; ok {
		return cached, nil
	}
	path, ok := g.cfg.PortConfigDirs[hwsku]
	if !ok {
		return nil, fmt.Errorf("no port-config file registered for hwsku %q", hwsku)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ports []PortConfig
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		lanes, err := util.ExpandRange(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parsing lanes for %s: %w", fields[0], err)
		}
		index, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("parsing index for %s: %w", fields[0], err)
		}
		speed, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing speed for %s: %w", fields[0], err)
		}
		var valid []int64
		if len(fields) > 5 {
			for _, s := range util.SplitCommaSeparated(fields[5]) {
				v, err := strconv.ParseInt(s, 10, 64)
				if err == nil {
					valid = append(valid, v)
				}
			}
		}
		ports = append(ports, PortConfig{
			Name: fields[0], Lanes: lanes, Alias: fields[2], Index: index,
			Speed: speed, ValidSpeeds: valid,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Index < ports[j].Index })
	g.portConfigCache[hwsku] = ports
	return ports, nil
}

// populatePorts emits the PORT, BREAKOUT_CFG, and BREAKOUT_PORTS sections
// (spec §4.4.2, §4.4.6). Master ports that have been broken out are
// omitted from PORT; their subports are emitted with per-subport lanes and
// speed.
func (g *Generator) populatePorts(doc Document, ports []PortConfig, ifaces []*model.Interface, byCanonical map[string]string) {
	groups, consumed := DetectBreakouts(ports)

	ifaceByName := map[string]*model.Interface{}
	for _, iface := range ifaces {
		if canon, ok := byCanonical[iface.Name]; ok {
			ifaceByName[canon] = iface
		} else {
			ifaceByName[iface.Name] = iface
		}
	}

	portTable := map[string]any{}
	for _, p := range ports {
		if consumed[p.Index] {
			continue
		}
		iface := findPortIface(p.Name, byCanonical, ifaces)
		portTable[p.Name] = portEntry(p, iface)
	}
	for _, grp := range groups {
		for i, sub := range grp.Subports {
			iface := findPortIface(sub.Name, byCanonical, ifaces)
			entry := portEntry(sub, iface)
			entry["index"] = grp.MasterIndex
			portTable[sub.Name] = entry
			_ = i
		}
	}
	doc["PORT"] = portTable

	breakoutCfg := map[string]any{}
	breakoutPorts := map[string]any{}
	for _, grp := range groups {
		masterName := fmt.Sprintf("Ethernet%d", grp.MasterIndex)
		breakoutCfg[masterName] = map[string]any{"brkout_mode": grp.Mode}
		for _, sub := range grp.Subports {
			breakoutPorts[sub.Name] = map[string]any{"master": masterName}
		}
	}
	doc["BREAKOUT_CFG"] = breakoutCfg
	doc["BREAKOUT_PORTS"] = breakoutPorts
}

func findPortIface(canonicalName string, byCanonical map[string]string, ifaces []*model.Interface) *model.Interface {
	alias, ok := byCanonical[canonicalName]
	for _, iface := range ifaces {
		if ok && iface.Name == alias {
			return iface
		}
		if iface.Name == canonicalName {
			return iface
		}
	}
	return nil
}

func portEntry(p PortConfig, iface *model.Interface) map[string]any {
	admin := "down"
	speed := p.Speed
	var tagged []int

	if iface != nil {
		if iface.Connected() {
			admin = "up"
		}
		if iface.SpeedKbps != 0 {
			speed = iface.SpeedKbps
		}
		tagged = append([]int(nil), iface.TaggedVLANs...)
		sort.Ints(tagged)
	}

	entry := map[string]any{
		"lanes":        joinInts(p.Lanes),
		"alias":        p.Alias,
		"index":        strconv.Itoa(p.Index),
		"speed":        strconv.FormatInt(speed, 10),
		"admin_status": admin,
	}
	if len(tagged) > 0 {
		entry["tagged_vlans"] = tagged
	}
	return entry
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
