// Package reconcile implements the BMC <-> Inventory Reconciler (spec
// §4.2, §4.3): a bidirectional, edge-triggered-plus-periodic reconciler
// that creates/updates/deletes BMC nodes from Inventory devices, drives
// provision-state transitions, and mirrors BMC-observed state back into
// the Inventory. Grounded on original_source/osism/tasks/conductor/ironic.py.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/taskfabric"
	"github.com/fabricwright/conductor/internal/vault"
)

// reconcilerLockTTL is the per-device lock auto-release TTL (spec §4.2
// step 3).
const reconcilerLockTTL = 10 * time.Minute

// Config is the managed-set filter plus base ironic parameters.
type Config struct {
	Queries              []inventory.Query
	ManagedByTag         string // e.g. "managed-by-bmc"
	BaseIronicParameters map[string]any
}

// Reconciler ties an Inventory client, a BMC client, a Task Fabric, and a
// Vault together.
type Reconciler struct {
	inv    inventory.Client
	bmcCli bmc.Client
	fabric *taskfabric.Fabric
	vault  vault.Vault
	cfg    Config
	log    *logrus.Entry
}

// New builds a Reconciler.
func New(inv inventory.Client, bmcCli bmc.Client, fabric *taskfabric.Fabric, v vault.Vault, cfg Config) *Reconciler {
	if v == nil {
		v = vault.NullVault{}
	}
	return &Reconciler{inv: inv, bmcCli: bmcCli, fabric: fabric, vault: v, cfg: cfg, log: logrus.WithField("component", "reconciler")}
}

// ManagedSet returns the union of devices matching the configured filter
// queries (spec §4.2 "Filter").
func (r *Reconciler) ManagedSet(ctx context.Context) ([]*model.Device, error) {
	seen := map[string]*model.Device{}
	for _, q := range r.cfg.Queries {
		devices, err := r.inv.FilterDevices(ctx, "", q)
		if err != nil {
			return nil, errs.NewTransient("inventory.filter", err)
		}
		for _, d := range devices {
			seen[d.Name] = d
		}
	}
	out := make([]*model.Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out, nil
}

// InboundSweepResult summarizes one inbound sweep for PartialFailure
// reporting (spec §7).
type InboundSweepResult struct {
	Created int
	Updated int
	Deleted int
	Failed  map[string]error
}

// InboundSweep implements spec §4.2's inbound (Inventory -> BMC) pass.
func (r *Reconciler) InboundSweep(ctx context.Context) (InboundSweepResult, error) {
	result := InboundSweepResult{Failed: map[string]error{}}

	devices, err := r.ManagedSet(ctx)
	if err != nil {
		return result, err
	}

	managedNames := map[string]bool{}
	for _, d := range devices {
		managedNames[d.Name] = true
		if err := r.reconcileOneInbound(ctx, d, &result); err != nil {
			result.Failed[d.Name] = err
			r.log.WithField("device", d.Name).WithError(err).Warn("inbound reconcile failed, continuing sweep")
		}
	}

	if err := r.deleteUnmanaged(ctx, managedNames, &result); err != nil {
		return result, err
	}

	if len(result.Failed) > 0 {
		return result, errs.NewPartialFailure(result.Failed)
	}
	return result, nil
}

func (r *Reconciler) reconcileOneInbound(ctx context.Context, d *model.Device, result *InboundSweepResult) error {
	lockName := "lock_reconciler_" + d.Name
	handle, err := r.fabric.Acquire(ctx, lockName, reconcilerLockTTL)
	if err != nil {
		return errs.NewTransient("acquire "+lockName, err)
	}
	defer r.fabric.Release(ctx, handle)

	attrs, err := r.composeNodeAttributes(ctx, d)
	if err != nil {
		return err
	}

	graph, err := r.inv.Graph(ctx, "", d.ID)
	if err != nil {
		return errs.NewTransient("inventory.graph", err)
	}
	ports := computePorts(graph, d.ID)

	existing, err := r.bmcCli.Find(ctx, d.Name)
	if err != nil {
		return errs.NewTransient("bmc.find", err)
	}

	if existing == nil {
		node := &model.Node{
			Name:           d.Name,
			ProvisionState: model.StateEnroll,
			Driver:         attrs.Driver,
			DriverInfo:     attrs.DriverInfo,
		}
		if err := r.bmcCli.Create(ctx, node); err != nil {
			return errs.NewConflict("bmc node "+d.Name, err.Error())
		}
		for _, mac := range ports {
			if err := r.bmcCli.CreatePort(ctx, d.Name, mac); err != nil {
				return errs.NewTransient("bmc.create_port", err)
			}
		}
		result.Created++
		existing = node
	} else {
		updates := map[string]any{}
		current := map[string]any{"driver_info": withoutPassword(existing.DriverInfo)}
		desired := map[string]any{"driver_info": withoutPassword(attrs.DriverInfo)}
		DeepCompare(desired, current, updates)
		if len(updates) > 0 {
			if err := r.bmcCli.Update(ctx, d.Name, updates); err != nil {
				return errs.NewConflict("bmc node "+d.Name, err.Error())
			}
			result.Updated++
		}
		if err := r.reconcilePorts(ctx, d.Name, ports); err != nil {
			return err
		}
	}

	return r.advanceProvisionState(ctx, d.Name, existing.ProvisionState)
}

// withoutPassword strips the driver password field before diffing, since
// the BMC never returns it (spec §4.2 step 3).
func withoutPassword(driverInfo map[string]any) map[string]any {
	out := make(map[string]any, len(driverInfo))
	for k, v := range driverInfo {
		if k == "redfish_password" || k == "ipmi_password" {
			continue
		}
		out[k] = v
	}
	return out
}

// computePorts returns one MAC per Interface that is enabled, non-mgmt-only,
// and carries a MAC address (spec §4.2 step 2).
func computePorts(g *model.Graph, deviceID string) []string {
	var macs []string
	for _, iface := range g.DeviceInterfaces(deviceID) {
		if iface.Enabled && !iface.MgmtOnly && iface.MACAddress != "" {
			macs = append(macs, iface.MACAddress)
		}
	}
	return macs
}

func (r *Reconciler) reconcilePorts(ctx context.Context, deviceName string, desired []string) error {
	existing, err := r.bmcCli.ListPorts(ctx, deviceName)
	if err != nil {
		return errs.NewTransient("bmc.list_ports", err)
	}
	desiredSet := map[string]bool{}
	for _, mac := range desired {
		desiredSet[strings.ToLower(mac)] = true
	}
	existingSet := map[string]bool{}
	for _, p := range existing {
		existingSet[p.MACAddress] = true
	}
	for mac := range desiredSet {
		if !existingSet[mac] {
			if err := r.bmcCli.CreatePort(ctx, deviceName, mac); err != nil {
				return errs.NewTransient("bmc.create_port", err)
			}
		}
	}
	for mac := range existingSet {
		if !desiredSet[mac] {
			if err := r.bmcCli.DeletePort(ctx, deviceName, mac); err != nil {
				return errs.NewTransient("bmc.delete_port", err)
			}
		}
	}
	return nil
}

// deleteUnmanaged implements spec §4.2 rule 4: delete BMC nodes no longer
// in the managed set, iff unprovisioned, in a safe state, and powered off.
func (r *Reconciler) deleteUnmanaged(ctx context.Context, managedNames map[string]bool, result *InboundSweepResult) error {
	all, err := r.bmcCli.AllNodes(ctx)
	if err != nil {
		return errs.NewTransient("bmc.all_nodes", err)
	}
	for _, n := range all {
		if managedNames[n.Name] {
			continue
		}
		if !n.Unprovisioned() || !model.IsSafeDeleteState(n.ProvisionState) || n.PowerState == "power on" {
			r.log.WithField("node", n.Name).Info("Cannot remove baremetal node because it is still provisioned")
			continue
		}
		if n.ProvisionState == model.StateCleanFailed {
			if err := r.bmcCli.SetProvisionState(ctx, n.Name, "manage", nil); err != nil {
				return errs.NewTransient("bmc.set_provision_state", err)
			}
		}
		ports, err := r.bmcCli.ListPorts(ctx, n.Name)
		if err != nil {
			return errs.NewTransient("bmc.list_ports", err)
		}
		for _, p := range ports {
			if err := r.bmcCli.DeletePort(ctx, n.Name, p.MACAddress); err != nil {
				return errs.NewTransient("bmc.delete_port", err)
			}
		}
		if err := r.bmcCli.Delete(ctx, n.Name); err != nil {
			return errs.NewTransient("bmc.delete", err)
		}
		result.Deleted++
		if err := r.clearProvisionCustomFields(ctx, n.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) clearProvisionCustomFields(ctx context.Context, deviceName string) error {
	fields := map[string]any{"provision_state": "", "power_state": ""}
	if err := r.inv.SetCustomFields(ctx, "", deviceName, fields); err != nil {
		return fmt.Errorf("clearing custom fields for %s: %w", deviceName, err)
	}
	for _, sec := range r.inv.Secondaries() {
		if err := r.inv.SetCustomFields(ctx, sec.Name, deviceName, fields); err != nil {
			r.log.WithField("secondary", sec.Name).WithError(err).Warn("could not clear custom fields on secondary")
		}
	}
	return nil
}

// OutboundSweep mirrors provision_state/power_state/maintenance from every
// BMC Node into the matching Device on the primary and all reachable
// secondaries (spec §4.2 "Outbound sweep").
func (r *Reconciler) OutboundSweep(ctx context.Context) (InboundSweepResult, error) {
	result := InboundSweepResult{Failed: map[string]error{}}
	nodes, err := r.bmcCli.AllNodes(ctx)
	if err != nil {
		return result, errs.NewTransient("bmc.all_nodes", err)
	}
	for _, n := range nodes {
		if err := r.mirrorOne(ctx, n); err != nil {
			result.Failed[n.Name] = err
		} else {
			result.Updated++
		}
	}
	if len(result.Failed) > 0 {
		return result, errs.NewPartialFailure(result.Failed)
	}
	return result, nil
}

func (r *Reconciler) mirrorOne(ctx context.Context, n *model.Node) error {
	lockName := "lock_reconciler_" + n.Name
	handle, err := r.fabric.Acquire(ctx, lockName, reconcilerLockTTL)
	if err != nil {
		return errs.NewTransient("acquire "+lockName, err)
	}
	defer r.fabric.Release(ctx, handle)

	fields := map[string]any{
		"provision_state": string(n.ProvisionState),
		"power_state":     n.PowerState,
		"maintenance":     n.Maintenance,
	}
	if err := r.inv.SetCustomFields(ctx, "", n.Name, fields); err != nil {
		return fmt.Errorf("mirroring state for %s on primary: %w", n.Name, err)
	}
	for _, sec := range r.inv.Secondaries() {
		if !sec.Matches(r.cfg.ManagedByTag) && r.cfg.ManagedByTag != "" {
			continue
		}
		if err := r.inv.Status(ctx, sec.Name); err != nil {
			r.log.WithField("secondary", sec.Name).Warn("secondary unreachable, skipping mirror")
			continue
		}
		if err := r.inv.SetCustomFields(ctx, sec.Name, n.Name, fields); err != nil {
			r.log.WithField("secondary", sec.Name).WithError(err).Warn("could not mirror state on secondary")
		}
	}
	return nil
}
