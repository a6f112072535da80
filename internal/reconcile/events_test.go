package reconcile

import (
	"context"
	"testing"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/taskfabric"
	"github.com/fabricwright/conductor/internal/testutil"
	"github.com/fabricwright/conductor/internal/vault"
)

func newTestReconciler(t *testing.T) (*Reconciler, *bmc.Fake, inventory.Client) {
	t.Helper()
	bmcCli := bmc.NewFake()
	inv := inventory.NewFake(nil)
	fabric := taskfabric.New(testutil.NewTestStore(t), nil)
	return New(inv, bmcCli, fabric, vault.NullVault{}, Config{}), bmcCli, inv
}

func TestConsumeEvents_MirrorsPowerState(t *testing.T) {
	r, bmcCli, inv := newTestReconciler(t)
	bmcCli.Nodes["leaf-01"] = &model.Node{Name: "leaf-01", ProvisionState: model.StateActive}
	fake := inv.(*inventory.Fake)
	fake.Seed("", &model.Device{ID: "d1", Name: "leaf-01"}, model.NewGraph())

	errCh := make(chan error, 1)
	go func() { errCh <- r.ConsumeEvents(context.Background()) }()

	bmcCli.Emit(bmc.Event{
		Type:    "baremetal.node.power_set.end",
		Node:    "leaf-01",
		Payload: map[string]any{"power_state": "power on"},
	})
	bmcCli.CloseNotifications()

	if err := <-errCh; err != nil {
		t.Fatalf("ConsumeEvents() error = %v", err)
	}

	d, err := fake.GetDevice(context.Background(), "", "leaf-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.CustomFields.PowerState != "power on" {
		t.Errorf("custom_fields.power_state = %q, want %q", d.CustomFields.PowerState, "power on")
	}
}

func TestConsumeEvents_IntrospectionDoneRequestsProvide(t *testing.T) {
	r, bmcCli, inv := newTestReconciler(t)
	bmcCli.Nodes["leaf-01"] = &model.Node{Name: "leaf-01", ProvisionState: model.StateInspectWait}
	fake := inv.(*inventory.Fake)
	fake.Seed("", &model.Device{ID: "d1", Name: "leaf-01"}, model.NewGraph())

	errCh := make(chan error, 1)
	go func() { errCh <- r.ConsumeEvents(context.Background()) }()

	bmcCli.Emit(bmc.Event{
		Type: "provision_set.end",
		Node: "leaf-01",
		Payload: map[string]any{
			"previous": "inspect wait",
			"event":    "done",
		},
	})
	bmcCli.CloseNotifications()

	if err := <-errCh; err != nil {
		t.Fatalf("ConsumeEvents() error = %v", err)
	}

	if got := bmcCli.Nodes["leaf-01"].ProvisionState; got != model.StateAvailable {
		t.Errorf("ProvisionState after introspection done = %q, want %q", got, model.StateAvailable)
	}

	d, err := fake.GetDevice(context.Background(), "", "leaf-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.CustomFields.IntrospectionState != "succeeded" {
		t.Errorf("custom_fields.introspection_state = %q, want %q", d.CustomFields.IntrospectionState, "succeeded")
	}
}

func TestConsumeEvents_UnrecognizedEventTypeIgnored(t *testing.T) {
	r, bmcCli, _ := newTestReconciler(t)
	bmcCli.Nodes["leaf-01"] = &model.Node{Name: "leaf-01", ProvisionState: model.StateActive}

	errCh := make(chan error, 1)
	go func() { errCh <- r.ConsumeEvents(context.Background()) }()

	bmcCli.Emit(bmc.Event{Type: "some.unrecognized.event", Node: "leaf-01", Payload: map[string]any{}})
	bmcCli.CloseNotifications()

	if err := <-errCh; err != nil {
		t.Fatalf("ConsumeEvents() error = %v", err)
	}
}
