package generator

import (
	"context"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
)

// SyncResult summarizes one generator sweep (spec §7 PartialFailure
// reporting, mirroring the Reconciler's sweep result shape).
type SyncResult struct {
	Published int
	Unchanged int
	Failed    map[string]error
}

// Sync runs the Configuration Generator over every switch Device matched
// by queries: resets process-local sweep caches, bulk-loads the metalbox
// index once, generates + publishes each device's configuration, and
// continues past per-device failures (spec §5, §9).
func (g *Generator) Sync(ctx context.Context, queries []inventory.Query, asGroups ASAssignment) (SyncResult, error) {
	result := SyncResult{Failed: map[string]error{}}
	g.ResetSweepCaches()

	seen := map[string]*model.Device{}
	for _, q := range queries {
		devices, err := g.inv.FilterDevices(ctx, "", q)
		if err != nil {
			return result, errs.NewTransient("inventory.filter", err)
		}
		for _, d := range devices {
			seen[d.Name] = d
		}
	}
	devices := make([]*model.Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}

	if err := g.loadMetalboxIndex(ctx, devices); err != nil {
		return result, err
	}

	for _, d := range devices {
		changed, err := g.generateAndPublish(ctx, d, asGroups)
		if err != nil {
			result.Failed[d.Name] = err
			continue
		}
		if changed {
			result.Published++
		} else {
			result.Unchanged++
		}
	}

	if len(result.Failed) > 0 {
		return result, errs.NewPartialFailure(result.Failed)
	}
	return result, nil
}

func (g *Generator) generateAndPublish(ctx context.Context, d *model.Device, asGroups ASAssignment) (bool, error) {
	graph, err := g.inv.Graph(ctx, "", d.ID)
	if err != nil {
		return false, errs.NewTransient("inventory.graph", err)
	}
	doc, err := g.Generate(ctx, d, graph, asGroups)
	if err != nil {
		return false, err
	}
	return g.Publish(ctx, d, doc)
}
