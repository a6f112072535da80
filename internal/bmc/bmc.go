// Package bmc defines the BMC Client boundary (spec §2, §6): CRUD on
// bare-metal nodes and ports, provision-state transitions with waits,
// validation, and power control. Consumed, not owned.
package bmc

import (
	"context"
	"strings"
	"time"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/util"
)

// ValidationResult mirrors the BMC's node-validation response used to
// drive the provision state machine (spec §4.2 step 3).
type ValidationResult struct {
	ManagementValid bool
	BootValid       bool
}

// Event is a BMC notification (spec §6). Payload carries the
// event-type-specific fields already flattened out of the
// ironic_object.data envelope.
type Event struct {
	Type    string
	Node    string // node name/uuid, resolved by the caller
	Payload map[string]any
}

// Client is the BMC API boundary the core consumes.
type Client interface {
	Find(ctx context.Context, name string) (*model.Node, error)
	Create(ctx context.Context, n *model.Node) error
	Update(ctx context.Context, name string, fields map[string]any) error
	Delete(ctx context.Context, name string) error

	Validate(ctx context.Context, name string) (ValidationResult, error)

	ListPorts(ctx context.Context, nodeName string) ([]model.Port, error)
	CreatePort(ctx context.Context, nodeName string, mac string) error
	DeletePort(ctx context.Context, nodeName string, mac string) error

	SetProvisionState(ctx context.Context, name, verb string, configDrive []byte) error
	WaitForProvisionState(ctx context.Context, name, target string, timeout time.Duration) error

	SetPowerState(ctx context.Context, name, state string) error

	// Notifications returns a channel of BMC events. Implementations MUST
	// process at-most-once per delivery; duplicate delivery is tolerated
	// by idempotent handling downstream (spec §9).
	Notifications(ctx context.Context) (<-chan Event, error)

	AllNodes(ctx context.Context) ([]*model.Node, error)
}

// Fake is an in-memory Client for tests.
type Fake struct {
	Nodes map[string]*model.Node
	Ports map[string][]model.Port // by node name

	CreateCalls int
	UpdateCalls int
	DeleteCalls int

	events chan Event
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Nodes:  map[string]*model.Node{},
		Ports:  map[string][]model.Port{},
		events: make(chan Event, 32),
	}
}

func (f *Fake) Find(ctx context.Context, name string) (*model.Node, error) {
	return f.Nodes[name], nil
}

func (f *Fake) Create(ctx context.Context, n *model.Node) error {
	f.CreateCalls++
	cp := *n
	f.Nodes[n.Name] = &cp
	return nil
}

func (f *Fake) Update(ctx context.Context, name string, fields map[string]any) error {
	f.UpdateCalls++
	n, ok := f.Nodes[name]
	if !ok {
		return nil
	}
	for k, v := range fields {
		switch k {
		case "driver":
			n.Driver, _ = v.(string)
		case "driver_info":
			n.DriverInfo, _ = v.(map[string]any)
		case "instance_info":
			n.InstanceInfo, _ = v.(map[string]any)
		case "extra":
			n.Extra, _ = v.(map[string]any)
		}
	}
	return nil
}

func (f *Fake) Delete(ctx context.Context, name string) error {
	f.DeleteCalls++
	delete(f.Nodes, name)
	delete(f.Ports, name)
	return nil
}

func (f *Fake) Validate(ctx context.Context, name string) (ValidationResult, error) {
	n, ok := f.Nodes[name]
	if !ok {
		return ValidationResult{}, nil
	}
	_, hasAddr := n.DriverInfo["redfish_address"]
	_, hasIPMIAddr := n.DriverInfo["ipmi_address"]
	managementValid := hasAddr || hasIPMIAddr
	return ValidationResult{ManagementValid: managementValid, BootValid: managementValid}, nil
}

func (f *Fake) ListPorts(ctx context.Context, nodeName string) ([]model.Port, error) {
	return f.Ports[nodeName], nil
}

func (f *Fake) CreatePort(ctx context.Context, nodeName, mac string) error {
	f.Ports[nodeName] = append(f.Ports[nodeName], model.Port{NodeUUID: nodeName, MACAddress: normalizeMAC(mac)})
	return nil
}

func (f *Fake) DeletePort(ctx context.Context, nodeName, mac string) error {
	mac = normalizeMAC(mac)
	ports := f.Ports[nodeName]
	out := ports[:0]
	for _, p := range ports {
		if p.MACAddress != mac {
			out = append(out, p)
		}
	}
	f.Ports[nodeName] = out
	return nil
}

func (f *Fake) SetProvisionState(ctx context.Context, name, verb string, configDrive []byte) error {
	n, ok := f.Nodes[name]
	if !ok {
		return nil
	}
	n.ProvisionState = nextState(n.ProvisionState, verb)
	return nil
}

func nextState(current model.ProvisionState, verb string) model.ProvisionState {
	switch verb {
	case "manage":
		return model.StateManageable
	case "provide":
		return model.StateAvailable
	case "active", "deploy":
		return model.StateActive
	case "rebuild":
		return model.StateActive
	case "deleted", "undeploy":
		return model.StateAvailable
	default:
		return current
	}
}

func (f *Fake) WaitForProvisionState(ctx context.Context, name, target string, timeout time.Duration) error {
	return nil // the fake transitions synchronously in SetProvisionState
}

func (f *Fake) SetPowerState(ctx context.Context, name, state string) error {
	if n, ok := f.Nodes[name]; ok {
		n.PowerState = state
	}
	return nil
}

// normalizeMAC canonicalizes mac for port-list comparisons, falling back to
// a simple lowercase on malformed input rather than rejecting the port
// outright (the real ironic port API has already validated it by then).
func normalizeMAC(mac string) string {
	if norm, err := util.NormalizeMACAddress(mac); err == nil {
		return norm
	}
	return strings.ToLower(mac)
}

func (f *Fake) Notifications(ctx context.Context) (<-chan Event, error) {
	return f.events, nil
}

// Emit delivers e to the fake's notification stream, for tests driving a
// reconciler event consumer.
func (f *Fake) Emit(e Event) {
	f.events <- e
}

// CloseNotifications closes the fake's event stream, simulating the BMC
// notification exchange disconnecting.
func (f *Fake) CloseNotifications() {
	close(f.events)
}

func (f *Fake) AllNodes(ctx context.Context) ([]*model.Node, error) {
	out := make([]*model.Node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		out = append(out, n)
	}
	return out, nil
}
