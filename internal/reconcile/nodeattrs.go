package reconcile

import (
	"context"
	"fmt"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/vault"
	"github.com/fabricwright/conductor/pkg/util"
)

// nodeAttributes is the composed driver/driver_info/extra set a Node is
// created or updated with (spec §4.2 step 1).
type nodeAttributes struct {
	Driver     string
	DriverInfo map[string]any
	Extra      map[string]any
}

// driverInfoKeys lists, per driver, the DriverInfo keys that driver owns.
// Keys belonging to a non-selected driver are stripped before the node is
// written, mirroring original_source/osism/tasks/conductor/ironic.py's
// per-driver key filtering.
var driverInfoKeys = map[string][]string{
	"redfish": {"redfish_address", "redfish_username", "redfish_password", "redfish_verify_ca", "redfish_system_id"},
	"ipmi":    {"ipmi_address", "ipmi_username", "ipmi_password"},
}

// composeNodeAttributes implements spec §4.2 step 1: deep-merge base ironic
// parameters with the Device's custom_fields.ironic_parameters (decrypted
// via Vault), then strip driver_info keys belonging to non-selected
// drivers, then resolve the management address via the fallback chain.
func (r *Reconciler) composeNodeAttributes(ctx context.Context, d *model.Device) (nodeAttributes, error) {
	base := map[string]any{}
	DeepMerge(base, r.cfg.BaseIronicParameters)

	overrides := map[string]any{}
	for k, v := range d.CustomFields.IronicParameters {
		overrides[k] = v
	}
	vault.DeepDecrypt(overrides, r.vault)
	DeepMerge(base, overrides)

	driver, _ := base["driver"].(string)
	if driver == "" {
		driver = "redfish"
		base["driver"] = driver
	}

	driverInfo, _ := base["driver_info"].(map[string]any)
	if driverInfo == nil {
		driverInfo = map[string]any{}
	}
	stripForeignDriverKeys(driverInfo, driver)

	resolver := DriverInfoResolver{Device: d}
	if err := resolver.Fill(driverInfo); err != nil {
		return nodeAttributes{}, err
	}

	extra, _ := base["extra"].(map[string]any)
	if extra == nil {
		extra = map[string]any{}
	}

	return nodeAttributes{Driver: driver, DriverInfo: driverInfo, Extra: extra}, nil
}

func stripForeignDriverKeys(driverInfo map[string]any, selected string) {
	for driver, keys := range driverInfoKeys {
		if driver == selected {
			continue
		}
		for _, k := range keys {
			delete(driverInfo, k)
		}
	}
}

// DriverInfoResolver fills in the management address when the Device's
// custom fields did not already supply one, following the fallback chain
// documented in SPEC_FULL.md: explicit custom_fields override > OOB IP >
// primary IPv4. Grounded on
// original_source/osism/tasks/conductor/ironic.py's redfish_address
// derivation.
type DriverInfoResolver struct {
	Device *model.Device
}

func (dr DriverInfoResolver) Fill(driverInfo map[string]any) error {
	if _, ok := driverInfo["redfish_address"]; ok {
		return nil
	}
	if _, ok := driverInfo["ipmi_address"]; ok {
		return nil
	}
	addr := dr.Device.OOBIP
	if addr == "" {
		addr = dr.Device.PrimaryIPv4
	}
	if addr == "" {
		return errs.NewValidation(dr.Device.Name, "no OOB or primary IPv4 address to derive a management address from")
	}
	// Device IPs carry a CIDR mask (e.g. "10.10.10.5/32"); the management
	// address is the bare host, mirroring
	// original_source/osism/tasks/conductor/ironic.py's oob_ip unpacking.
	host, _ := util.SplitIPMask(addr)
	driverInfo["redfish_address"] = fmt.Sprintf("https://%s", host)
	return nil
}
