package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabricwright/conductor/internal/inventory"
	"github.com/fabricwright/conductor/internal/model"
)

func TestPublish_FirstRunWritesAndJournals(t *testing.T) {
	inv := inventory.NewFake(nil)
	d := &model.Device{ID: "dev-1", Name: "leaf-1"}
	inv.Seed("", d, model.NewGraph())

	exportDir := t.TempDir()
	g := New(inv, Config{ExportDir: exportDir, FilePrefix: "", FileSuffix: ".json"})

	doc := Document{"DEVICE_METADATA": map[string]any{"localhost": map[string]any{"hostname": "leaf-1"}}}

	published, err := g.Publish(context.Background(), d, doc)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !published {
		t.Fatal("Publish() on first run should report published = true")
	}

	if len(inv.Journal("")) != 1 {
		t.Errorf("Journal() = %d entries, want 1", len(inv.Journal("")))
	}

	if _, err := os.Stat(filepath.Join(exportDir, "leaf-1.json")); err != nil {
		t.Errorf("expected export file to be written: %v", err)
	}
}

func TestPublish_NoOpWhenUnchanged(t *testing.T) {
	inv := inventory.NewFake(nil)
	d := &model.Device{ID: "dev-1", Name: "leaf-1"}
	inv.Seed("", d, model.NewGraph())

	exportDir := t.TempDir()
	g := New(inv, Config{ExportDir: exportDir})

	doc := Document{"DEVICE_METADATA": map[string]any{"localhost": map[string]any{"hostname": "leaf-1"}}}
	ctx := context.Background()

	if _, err := g.Publish(ctx, d, doc); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}

	published, err := g.Publish(ctx, d, doc)
	if err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if published {
		t.Error("Publish() with an unchanged document should report published = false")
	}
	if len(inv.Journal("")) != 1 {
		t.Errorf("Journal() after no-op publish = %d entries, want still 1", len(inv.Journal("")))
	}
}

func TestPublish_ChangedDocumentRepublishes(t *testing.T) {
	inv := inventory.NewFake(nil)
	d := &model.Device{ID: "dev-1", Name: "leaf-1"}
	inv.Seed("", d, model.NewGraph())

	g := New(inv, Config{})
	ctx := context.Background()

	doc1 := Document{"VERSION": map[string]any{"version": map[string]any{"version": "1"}}}
	if _, err := g.Publish(ctx, d, doc1); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}

	doc2 := Document{"VERSION": map[string]any{"version": map[string]any{"version": "2"}}}
	published, err := g.Publish(ctx, d, doc2)
	if err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if !published {
		t.Error("Publish() with a changed document should report published = true")
	}
	if len(inv.Journal("")) != 2 {
		t.Errorf("Journal() after two real changes = %d entries, want 2", len(inv.Journal("")))
	}
}
