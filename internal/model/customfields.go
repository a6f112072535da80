package model

// CustomFields models the Inventory's free-form per-device map as a tagged
// variant: known keys the core owns or reads get typed fields, everything
// else round-trips verbatim in Extra. See DESIGN.md / spec §9.
//
// Keys owned (written) by the core: ProvisionState, PowerState, Maintenance,
// IronicState, IntrospectionState, DeploymentState, DeviceState,
// DeviceTransition, NetworkInterfaceName. Everything else here is read-only
// from the core's perspective.
type CustomFields struct {
	ProvisionState       string
	PowerState           string
	Maintenance          bool
	IronicState          string
	IntrospectionState   string
	DeploymentState      string
	DeviceState          string
	DeviceTransition     string
	NetworkInterfaceName string

	IronicParameters  map[string]any // encrypted leaves handled via Vault
	SonicParameters   SonicParameters
	Secrets           map[string]any
	NetplanParameters map[string]any
	FRRParameters     map[string]any

	InventoryHostname string
	DeploymentEnabled bool
	DeploymentType    string
	DeviceType        string

	// Extra preserves any key not enumerated above, verbatim, for round-trip.
	Extra map[string]any
}

// SonicParameters is the custom_fields.sonic_parameters sub-object.
type SonicParameters struct {
	HWSKU          string
	ConfigVersion  string
}

// ownedKeys is the exact set of custom-field keys the core is ever allowed
// to write (spec §3). Used by the reconciler and generator to guard writes.
var ownedKeys = map[string]bool{
	"provision_state":        true,
	"power_state":            true,
	"maintenance":            true,
	"ironic_state":           true,
	"introspection_state":    true,
	"deployment_state":       true,
	"device_state":           true,
	"device_transition":      true,
	"network_interface_name": true,
}

// IsOwnedKey reports whether the core is permitted to write the given
// custom-field key.
func IsOwnedKey(key string) bool { return ownedKeys[key] }
