package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fabricwright/conductor/internal/configdrive"
	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/audit"
)

// advanceProvisionState drives the mechanical half of the provision state
// machine (spec §4.3): enroll -> manageable -> available is automatic and
// gated on BMC validation success; everything past "available" (deploy,
// rebuild, undeploy) is operator- or event-triggered and is left alone
// here.
func (r *Reconciler) advanceProvisionState(ctx context.Context, name string, state model.ProvisionState) error {
	switch state {
	case model.StateEnroll:
		result, err := r.bmcCli.Validate(ctx, name)
		if err != nil {
			return errs.NewTransient("bmc.validate", err)
		}
		if !result.ManagementValid {
			r.log.WithField("node", name).Debug("validation not yet satisfied, staying in enroll")
			return nil
		}
		if err := r.bmcCli.SetProvisionState(ctx, name, "manage", nil); err != nil {
			return errs.NewTransient("bmc.set_provision_state(manage)", err)
		}
		return nil

	case model.StateManageable:
		result, err := r.bmcCli.Validate(ctx, name)
		if err != nil {
			return errs.NewTransient("bmc.validate", err)
		}
		if !result.BootValid {
			return nil
		}
		if err := r.bmcCli.SetProvisionState(ctx, name, "provide", nil); err != nil {
			return errs.NewTransient("bmc.set_provision_state(provide)", err)
		}
		return nil

	case model.StateCleanFailed:
		// Held for operator intervention unless the node is about to be
		// deleted (handled in deleteUnmanaged); no automatic transition.
		return nil

	default:
		return nil
	}
}

// Deploy implements the operator-triggered "available -> active" path
// (spec §4.3), packing the supplied config-drive blob into the deploy
// call.
func (r *Reconciler) Deploy(ctx context.Context, name string, configDrive []byte) error {
	start := time.Now()
	err := r.deploy(ctx, name, configDrive)
	ev := audit.NewEvent("reconciler", name, "provision_state.set:active").WithDuration(time.Since(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}
	audit.Log(ev)
	return err
}

func (r *Reconciler) deploy(ctx context.Context, name string, configDrive []byte) error {
	n, err := r.bmcCli.Find(ctx, name)
	if err != nil {
		return errs.NewTransient("bmc.find", err)
	}
	if n == nil {
		return errs.NewValidation(name, "no such node")
	}
	if n.ProvisionState != model.StateAvailable {
		return errs.NewValidation(name, "node is not in available state")
	}
	if err := r.rehydrateImageSource(ctx, n); err != nil {
		return err
	}
	return r.bmcCli.SetProvisionState(ctx, name, "active", configDrive)
}

// rehydrateImageSource implements the §9 open question on BMC image-id
// rehydration: extra.instance_info persists the last deploy's
// instance_info as a JSON string (mirroring
// original_source/osism/tasks/conductor/ironic.py's json.dumps) so it
// survives an undeploy, which clears the live instance_info. If the live
// Node is missing instance_info.image_source, it is restored from there
// before the next deploy. Live instance_info always wins when both are
// present and disagree; the disagreement is logged.
func (r *Reconciler) rehydrateImageSource(ctx context.Context, n *model.Node) error {
	raw, ok := n.Extra["instance_info"].(string)
	if !ok || raw == "" {
		return nil
	}
	var persisted map[string]any
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		r.log.WithField("node", n.Name).WithError(err).Warn("could not parse persisted extra.instance_info, skipping rehydration")
		return nil
	}
	persistedImage, _ := persisted["image_source"].(string)
	if persistedImage == "" {
		return nil
	}

	if n.InstanceInfo == nil {
		n.InstanceInfo = map[string]any{}
	}
	liveImage, _ := n.InstanceInfo["image_source"].(string)
	switch {
	case liveImage == "":
		n.InstanceInfo["image_source"] = persistedImage
		if err := r.bmcCli.Update(ctx, n.Name, map[string]any{"instance_info": n.InstanceInfo}); err != nil {
			return errs.NewTransient("bmc.update(instance_info)", err)
		}
	case liveImage != persistedImage:
		r.log.WithField("node", n.Name).WithField("live_image_source", liveImage).WithField("persisted_image_source", persistedImage).
			Warn("live instance_info.image_source disagrees with persisted extra.instance_info, keeping live value")
	}
	return nil
}

// Undeploy implements the "active|wait call-back|deploy failed|error ->
// available" path (spec §4.3). SSH known-host cleanup, performed by the
// original against the deployed host, is out of scope here since no SSH
// driver exists in this corpus; callers needing it should hook Undeploy's
// return.
func (r *Reconciler) Undeploy(ctx context.Context, name string) error {
	start := time.Now()
	err := r.undeploy(ctx, name)
	ev := audit.NewEvent("reconciler", name, "provision_state.set:undeploy").WithDuration(time.Since(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}
	audit.Log(ev)
	return err
}

func (r *Reconciler) undeploy(ctx context.Context, name string) error {
	n, err := r.bmcCli.Find(ctx, name)
	if err != nil {
		return errs.NewTransient("bmc.find", err)
	}
	if n == nil {
		return errs.NewValidation(name, "no such node")
	}
	if !model.CanUndeploy(n.ProvisionState) {
		return errs.NewValidation(name, "node is not in an undeployable state")
	}
	return r.bmcCli.SetProvisionState(ctx, name, "undeploy", nil)
}

// Rebuild implements the "active -> active" redeploy path (spec §4.3).
func (r *Reconciler) Rebuild(ctx context.Context, name string, configDrive []byte) error {
	start := time.Now()
	err := r.rebuild(ctx, name, configDrive)
	ev := audit.NewEvent("reconciler", name, "provision_state.set:rebuild").WithDuration(time.Since(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}
	audit.Log(ev)
	return err
}

func (r *Reconciler) rebuild(ctx context.Context, name string, configDrive []byte) error {
	n, err := r.bmcCli.Find(ctx, name)
	if err != nil {
		return errs.NewTransient("bmc.find", err)
	}
	if n == nil {
		return errs.NewValidation(name, "no such node")
	}
	if n.ProvisionState != model.StateActive {
		return errs.NewValidation(name, "node is not active")
	}
	return r.bmcCli.SetProvisionState(ctx, name, "rebuild", configDrive)
}

// DeployDevice builds the config-drive blob for d from its previously
// published local_context_data and custom_fields (spec §4.5), then runs
// Deploy. A build failure is Validation-class and aborts only this Device.
func (r *Reconciler) DeployDevice(ctx context.Context, d *model.Device) error {
	localContext, _, err := r.inv.GetLocalContextData(ctx, "", d.Name, "sonic_config")
	if err != nil {
		return errs.NewTransient("inventory.get_local_context_data", err)
	}
	localContextMap, _ := localContext.(map[string]any)

	blob, err := configdrive.Build(d, localContextMap)
	if err != nil {
		return err
	}
	return r.Deploy(ctx, d.Name, blob)
}

// RebuildDevice is DeployDevice's analogue for the active -> active redeploy
// path.
func (r *Reconciler) RebuildDevice(ctx context.Context, d *model.Device) error {
	localContext, _, err := r.inv.GetLocalContextData(ctx, "", d.Name, "sonic_config")
	if err != nil {
		return errs.NewTransient("inventory.get_local_context_data", err)
	}
	localContextMap, _ := localContext.(map[string]any)

	blob, err := configdrive.Build(d, localContextMap)
	if err != nil {
		return err
	}
	return r.Rebuild(ctx, d.Name, blob)
}
