package reconcile

import (
	"context"
	"fmt"

	"github.com/fabricwright/conductor/internal/bmc"
	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/model"
)

// eventFieldMap maps a recognized event_type (spec §6) to the Node field
// its payload carries, for the outbound-mirror half of event handling
// (spec §4.2 "Event-driven path"). port.* and node.delete.end events carry
// no mirrorable scalar field and are handled by reconcilePorts /
// deleteUnmanaged on the next sweep instead.
var eventFieldMap = map[string]string{
	"baremetal.node.power_set.end":  "power_state",
	"power_state_corrected.success": "power_state",
	"maintenance_set.end":           "maintenance",
}

// ConsumeEvents subscribes to the BMC notification stream and applies each
// event at-most-once (spec §4.2 "Event-driven path"). It returns when ctx
// is cancelled or the stream closes. A single event never triggers a
// deployment; it only updates Inventory state and, for the introspection
// transition, requests a provision-state change.
func (r *Reconciler) ConsumeEvents(ctx context.Context) error {
	events, err := r.bmcCli.Notifications(ctx)
	if err != nil {
		return errs.NewTransient("bmc.notifications", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handleEvent(ctx, ev); err != nil {
				r.log.WithField("event_type", ev.Type).WithField("node", ev.Node).WithError(err).Warn("event handling failed, continuing")
			}
		}
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, ev bmc.Event) error {
	if err := r.advanceFromEvent(ctx, ev); err != nil {
		return err
	}
	field, ok := eventFieldMap[ev.Type]
	if !ok {
		return nil
	}
	value, present := ev.Payload[field]
	if !present {
		return nil
	}
	return r.mirrorField(ctx, ev.Node, field, value)
}

// mirrorField applies a single outbound-sweep-style field update to the
// Device matching ev.Node, on the primary and every reachable secondary
// (spec §4.2 "Outbound sweep"). It trusts the event payload's value rather
// than re-reading the Node, since the notification already carries the
// post-transition state.
func (r *Reconciler) mirrorField(ctx context.Context, nodeName, field string, value any) error {
	lockName := "lock_reconciler_" + nodeName
	handle, err := r.fabric.Acquire(ctx, lockName, reconcilerLockTTL)
	if err != nil {
		return errs.NewTransient("acquire "+lockName, err)
	}
	defer r.fabric.Release(ctx, handle)

	fields := map[string]any{field: value}
	if err := r.inv.SetCustomFields(ctx, "", nodeName, fields); err != nil {
		return fmt.Errorf("mirroring %s for %s on primary: %w", field, nodeName, err)
	}
	for _, sec := range r.inv.Secondaries() {
		if !sec.Matches(r.cfg.ManagedByTag) && r.cfg.ManagedByTag != "" {
			continue
		}
		if err := r.inv.Status(ctx, sec.Name); err != nil {
			r.log.WithField("secondary", sec.Name).Warn("secondary unreachable, skipping mirror")
			continue
		}
		if err := r.inv.SetCustomFields(ctx, sec.Name, nodeName, fields); err != nil {
			r.log.WithField("secondary", sec.Name).WithError(err).Warn("could not mirror state on secondary")
		}
	}
	return nil
}

// advanceFromEvent implements spec §4.3's sole event-triggered state
// advance: provision_set.end leaving "inspect wait" on success records
// introspection success and requests "provide".
func (r *Reconciler) advanceFromEvent(ctx context.Context, ev bmc.Event) error {
	if ev.Type != "provision_set.end" && ev.Type != "baremetal.node.provision_set.end" {
		return nil
	}
	previous, _ := ev.Payload["previous"].(string)
	eventName, _ := ev.Payload["event"].(string)
	if model.ProvisionState(previous) != model.StateInspectWait || eventName != "done" {
		return nil
	}
	if err := r.inv.SetCustomFields(ctx, "", ev.Node, map[string]any{"introspection_state": "succeeded"}); err != nil {
		return fmt.Errorf("recording introspection success for %s: %w", ev.Node, err)
	}
	if err := r.bmcCli.SetProvisionState(ctx, ev.Node, "provide", nil); err != nil {
		return errs.NewTransient("bmc.set_provision_state(provide)", err)
	}
	return nil
}
