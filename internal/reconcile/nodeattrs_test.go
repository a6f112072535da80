package reconcile

import (
	"context"
	"testing"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/vault"
)

func newAttrTestReconciler(cfg Config) *Reconciler {
	return New(inventory.NewFake(nil), bmc.NewFake(), nil, vault.NullVault{}, cfg)
}

func TestComposeNodeAttributes_DefaultsToRedfishAndDerivesAddress(t *testing.T) {
	r := newAttrTestReconciler(Config{})
	d := &model.Device{Name: "leaf-1", OOBIP: "10.10.10.5/32"}

	attrs, err := r.composeNodeAttributes(context.Background(), d)
	if err != nil {
		t.Fatalf("composeNodeAttributes() error = %v", err)
	}
	if attrs.Driver != "redfish" {
		t.Errorf("Driver = %q, want %q", attrs.Driver, "redfish")
	}
	if got := attrs.DriverInfo["redfish_address"]; got != "https://10.10.10.5" {
		t.Errorf("redfish_address = %v, want %q", got, "https://10.10.10.5")
	}
}

func TestComposeNodeAttributes_PrimaryIPv4Fallback(t *testing.T) {
	r := newAttrTestReconciler(Config{})
	d := &model.Device{Name: "leaf-2", PrimaryIPv4: "10.20.20.5/32"}

	attrs, err := r.composeNodeAttributes(context.Background(), d)
	if err != nil {
		t.Fatalf("composeNodeAttributes() error = %v", err)
	}
	if got := attrs.DriverInfo["redfish_address"]; got != "https://10.20.20.5" {
		t.Errorf("redfish_address = %v, want fallback to primary IPv4", got)
	}
}

func TestComposeNodeAttributes_NoAddressIsValidationError(t *testing.T) {
	r := newAttrTestReconciler(Config{})
	d := &model.Device{Name: "leaf-3"}

	if _, err := r.composeNodeAttributes(context.Background(), d); err == nil {
		t.Fatal("expected a validation error when no OOB or primary address is available")
	}
}

func TestComposeNodeAttributes_ForeignDriverKeysStripped(t *testing.T) {
	r := newAttrTestReconciler(Config{
		BaseIronicParameters: map[string]any{
			"driver": "ipmi",
			"driver_info": map[string]any{
				"ipmi_address":     "10.0.0.1",
				"redfish_address":  "https://should-be-stripped",
				"redfish_username": "should-be-stripped",
			},
		},
	})
	d := &model.Device{Name: "leaf-4", OOBIP: "10.0.0.1/32"}

	attrs, err := r.composeNodeAttributes(context.Background(), d)
	if err != nil {
		t.Fatalf("composeNodeAttributes() error = %v", err)
	}
	if attrs.Driver != "ipmi" {
		t.Errorf("Driver = %q, want %q", attrs.Driver, "ipmi")
	}
	if _, present := attrs.DriverInfo["redfish_address"]; present {
		t.Error("redfish_address should have been stripped for an ipmi-driven node")
	}
	if _, present := attrs.DriverInfo["redfish_username"]; present {
		t.Error("redfish_username should have been stripped for an ipmi-driven node")
	}
	if got := attrs.DriverInfo["ipmi_address"]; got != "10.0.0.1" {
		t.Errorf("ipmi_address = %v, want unchanged", got)
	}
}

func TestComposeNodeAttributes_ExplicitAddressNotOverwritten(t *testing.T) {
	r := newAttrTestReconciler(Config{
		BaseIronicParameters: map[string]any{
			"driver_info": map[string]any{"redfish_address": "https://explicit.example"},
		},
	})
	d := &model.Device{Name: "leaf-5", OOBIP: "10.0.0.9/32"}

	attrs, err := r.composeNodeAttributes(context.Background(), d)
	if err != nil {
		t.Fatalf("composeNodeAttributes() error = %v", err)
	}
	if got := attrs.DriverInfo["redfish_address"]; got != "https://explicit.example" {
		t.Errorf("redfish_address = %v, want explicit override preserved", got)
	}
}
