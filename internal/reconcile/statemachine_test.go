package reconcile

import (
	"context"
	"testing"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/vault"
)

func TestDeploy_RequiresAvailableState(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateEnroll}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Deploy(context.Background(), "sw1", nil); err == nil {
		t.Fatal("expected Deploy to reject a node not in available state")
	}
}

func TestDeploy_TransitionsToActive(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateAvailable}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Deploy(context.Background(), "sw1", []byte(`{}`)); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateActive {
		t.Errorf("ProvisionState after Deploy = %q, want %q", got, model.StateActive)
	}
}

func TestDeploy_UnknownNodeIsValidationError(t *testing.T) {
	r := New(inventory.NewFake(nil), bmc.NewFake(), nil, vault.NullVault{}, Config{})
	if err := r.Deploy(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected Deploy against an unknown node to error")
	}
}

func TestUndeploy_RejectsNonUndeployableState(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateManageable}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Undeploy(context.Background(), "sw1"); err == nil {
		t.Fatal("expected Undeploy to reject a non-undeployable state")
	}
}

func TestUndeploy_FromActiveSucceeds(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateActive}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Undeploy(context.Background(), "sw1"); err != nil {
		t.Fatalf("Undeploy() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateAvailable {
		t.Errorf("ProvisionState after Undeploy = %q, want %q", got, model.StateAvailable)
	}
}

func TestRebuild_RequiresActiveState(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateAvailable}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Rebuild(context.Background(), "sw1", nil); err == nil {
		t.Fatal("expected Rebuild to reject a non-active node")
	}
}

func TestRebuild_StaysActive(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateActive}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Rebuild(context.Background(), "sw1", []byte(`{}`)); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateActive {
		t.Errorf("ProvisionState after Rebuild = %q, want %q", got, model.StateActive)
	}
}

func TestDeploy_RehydratesMissingImageSource(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{
		Name:           "sw1",
		ProvisionState: model.StateAvailable,
		Extra:          map[string]any{"instance_info": `{"image_source":"https://images/sonic.bin"}`},
	}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Deploy(context.Background(), "sw1", []byte(`{}`)); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].InstanceInfo["image_source"]; got != "https://images/sonic.bin" {
		t.Errorf("instance_info.image_source = %v, want restored value", got)
	}
}

func TestDeploy_PrefersLiveImageSourceWhenBothPresent(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{
		Name:           "sw1",
		ProvisionState: model.StateAvailable,
		InstanceInfo:   map[string]any{"image_source": "https://images/live.bin"},
		Extra:          map[string]any{"instance_info": `{"image_source":"https://images/stale.bin"}`},
	}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.Deploy(context.Background(), "sw1", []byte(`{}`)); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].InstanceInfo["image_source"]; got != "https://images/live.bin" {
		t.Errorf("instance_info.image_source = %v, want live value preserved", got)
	}
}

func TestAdvanceProvisionState_EnrollStaysPutUntilManagementValid(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateEnroll}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.advanceProvisionState(context.Background(), "sw1", model.StateEnroll); err != nil {
		t.Fatalf("advanceProvisionState() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateEnroll {
		t.Errorf("ProvisionState = %q, want unchanged %q (no management address set)", got, model.StateEnroll)
	}
}

func TestAdvanceProvisionState_EnrollAdvancesOnceManagementValid(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{
		Name:           "sw1",
		ProvisionState: model.StateEnroll,
		DriverInfo:     map[string]any{"redfish_address": "https://10.0.0.1"},
	}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.advanceProvisionState(context.Background(), "sw1", model.StateEnroll); err != nil {
		t.Fatalf("advanceProvisionState() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateManageable {
		t.Errorf("ProvisionState = %q, want %q", got, model.StateManageable)
	}
}

func TestAdvanceProvisionState_ManageableAdvancesToAvailable(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{
		Name:           "sw1",
		ProvisionState: model.StateManageable,
		DriverInfo:     map[string]any{"redfish_address": "https://10.0.0.1"},
	}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.advanceProvisionState(context.Background(), "sw1", model.StateManageable); err != nil {
		t.Fatalf("advanceProvisionState() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateAvailable {
		t.Errorf("ProvisionState = %q, want %q", got, model.StateAvailable)
	}
}

func TestAdvanceProvisionState_CleanFailedIsOperatorHeld(t *testing.T) {
	bmcCli := bmc.NewFake()
	bmcCli.Nodes["sw1"] = &model.Node{Name: "sw1", ProvisionState: model.StateCleanFailed}
	r := New(inventory.NewFake(nil), bmcCli, nil, vault.NullVault{}, Config{})

	if err := r.advanceProvisionState(context.Background(), "sw1", model.StateCleanFailed); err != nil {
		t.Fatalf("advanceProvisionState() error = %v", err)
	}
	if got := bmcCli.Nodes["sw1"].ProvisionState; got != model.StateCleanFailed {
		t.Errorf("ProvisionState = %q, want unchanged %q", got, model.StateCleanFailed)
	}
}
