package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/pkg/audit"
)

const localContextKey = "sonic_config"

// Publish implements spec §4.4.8: diff the newly generated Document
// against the Device's previous published configuration, and if (and only
// if) they differ, journal the unified diff, update local_context_data,
// and atomically write the config file to ExportDir. Returns whether a
// change was published.
func (g *Generator) Publish(ctx context.Context, d *model.Device, doc Document) (bool, error) {
	start := time.Now()
	published, err := g.publish(ctx, d, doc)
	ev := audit.NewEvent("generator", d.Name, "config.publish").WithDuration(time.Since(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
		ev.WithChanges(map[string]string{"published": fmt.Sprintf("%t", published)})
	}
	audit.Log(ev)
	return published, err
}

func (g *Generator) publish(ctx context.Context, d *model.Device, doc Document) (bool, error) {
	previousRaw, ok, err := g.inv.GetLocalContextData(ctx, "", d.Name, localContextKey)
	if err != nil {
		return false, errs.NewTransient("inventory.get_local_context_data", err)
	}

	newCanonical, err := canonicalJSON(doc)
	if err != nil {
		return false, errs.NewFatal("marshalling generated config for "+d.Name, err)
	}

	var previousCanonical string
	if ok {
		previousCanonical, err = canonicalJSONFromAny(previousRaw)
		if err != nil {
			return false, errs.NewFatal("marshalling previous config for "+d.Name, err)
		}
	}

	if previousCanonical == newCanonical {
		return false, nil
	}

	unified, err := unifiedDiff(previousCanonical, newCanonical, d.Name)
	if err != nil {
		return false, errs.NewFatal("computing unified diff for "+d.Name, err)
	}

	entry := inventory.JournalEntry{
		Device:  d.Name,
		Kind:    "info",
		Message: fmt.Sprintf("sonic configuration changed:\n```diff\n%s\n```", unified),
	}
	if err := g.inv.CreateJournalEntry(ctx, "", entry); err != nil {
		return false, errs.NewTransient("inventory.create_journal_entry", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(newCanonical), &decoded); err != nil {
		return false, errs.NewFatal("decoding canonical config for "+d.Name, err)
	}
	if err := g.inv.SetLocalContextData(ctx, "", d.Name, localContextKey, decoded); err != nil {
		return false, errs.NewTransient("inventory.set_local_context_data", err)
	}

	identifier := d.CustomFields.InventoryHostname
	if identifier == "" {
		identifier = d.Name
	}
	if err := g.writeExportFile(d.Name, identifier, []byte(newCanonical)); err != nil {
		return false, errs.NewFatal("writing export file for "+d.Name, err)
	}

	return true, nil
}

// canonicalJSON renders doc as two-space-indented JSON with lexicographically
// sorted object keys (Go's encoding/json already sorts map[string]any keys),
// giving a byte-identical rendering for identical logical content (spec
// §4.4.7 determinism).
func canonicalJSON(doc Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return reindent(raw)
}

func canonicalJSONFromAny(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return reindent(raw)
}

func reindent(raw []byte) (string, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func unifiedDiff(previous, current, name string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: name + ".previous",
		ToFile:   name + ".new",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// writeExportFile writes content atomically to
// <ExportDir>/<prefix><identifier><suffix>, symlinking the hostname
// filename to the serial filename when the identifier differs from the
// device name (spec §4.4.8).
func (g *Generator) writeExportFile(deviceName, identifier string, content []byte) error {
	if g.cfg.ExportDir == "" {
		return nil
	}
	target := exportFilename(g.cfg, identifier)
	path := filepath.Join(g.cfg.ExportDir, target)

	tmp, err := os.CreateTemp(g.cfg.ExportDir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if identifier != deviceName {
		hostnameLink := filepath.Join(g.cfg.ExportDir, exportFilename(g.cfg, deviceName))
		os.Remove(hostnameLink)
		if err := os.Symlink(target, hostnameLink); err != nil {
			return err
		}
	}
	return nil
}

func exportFilename(cfg Config, identifier string) string {
	return cfg.FilePrefix + identifier + cfg.FileSuffix
}
