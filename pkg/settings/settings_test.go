package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetAuditLogPath(); got != "/var/log/conductor/audit.log" {
		t.Errorf("GetAuditLogPath() default = %q, want %q", got, "/var/log/conductor/audit.log")
	}
	if got := s.GetAuditMaxSizeMB(); got != DefaultAuditMaxSizeMB {
		t.Errorf("GetAuditMaxSizeMB() default = %d, want %d", got, DefaultAuditMaxSizeMB)
	}
	if got := s.GetAuditMaxBackups(); got != DefaultAuditMaxBackups {
		t.Errorf("GetAuditMaxBackups() default = %d, want %d", got, DefaultAuditMaxBackups)
	}
	if got := s.GetSweepIntervalSeconds(); got != DefaultSweepIntervalSeconds {
		t.Errorf("GetSweepIntervalSeconds() default = %d, want %d", got, DefaultSweepIntervalSeconds)
	}
	if got := s.GetAdmissionLockTTL(); got != DefaultAdmissionLockTTL {
		t.Errorf("GetAdmissionLockTTL() default = %q, want %q", got, DefaultAdmissionLockTTL)
	}
	if s.Store != "" {
		t.Errorf("Store should be empty, got %q", s.Store)
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{
		Store:        "localhost:6379",
		InventoryURL: "https://inventory.example.com",
		ManagedByTag: "managed-by-conductor",
	}

	s.Clear()

	if s.Store != "" || s.InventoryURL != "" || s.ManagedByTag != "" {
		t.Error("Clear() should reset all fields to empty")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "conductor-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "settings.yaml")

	original := &Settings{
		Store:        "localhost:6379",
		InventoryURL: "https://inventory.example.com",
		BMCURL:       "https://bmc.example.com",
		ManagedByTag: "managed-by-conductor",
		VaultKeyPath: "/etc/conductor/vault.key",
		Generator: GeneratorSettings{
			DefaultHWSKU: "Accton-AS7326-56X",
			ExportDir:    "/var/lib/conductor/export",
		},
	}

	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if loaded.Store != original.Store {
		t.Errorf("Store mismatch: got %q, want %q", loaded.Store, original.Store)
	}
	if loaded.InventoryURL != original.InventoryURL {
		t.Errorf("InventoryURL mismatch: got %q, want %q", loaded.InventoryURL, original.InventoryURL)
	}
	if loaded.BMCURL != original.BMCURL {
		t.Errorf("BMCURL mismatch: got %q, want %q", loaded.BMCURL, original.BMCURL)
	}
	if loaded.Generator.DefaultHWSKU != original.Generator.DefaultHWSKU {
		t.Errorf("Generator.DefaultHWSKU mismatch: got %q, want %q", loaded.Generator.DefaultHWSKU, original.Generator.DefaultHWSKU)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.yaml")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil {
		t.Fatal("LoadFrom() should return non-nil Settings")
	}
	if s.Store != "" {
		t.Error("LoadFrom() non-existent should return empty settings")
	}
}

func TestSettings_LoadInvalidYAML(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "conductor-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "settings.yaml")
	if err := os.WriteFile(path, []byte("store: [this is not: valid"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid YAML should error")
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "conductor-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "subdir", "nested", "settings.yaml")

	s := &Settings{Store: "localhost:6379"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	if orig, ok := os.LookupEnv("CONDUCTOR_CONFIG"); ok {
		defer os.Setenv("CONDUCTOR_CONFIG", orig)
	} else {
		defer os.Unsetenv("CONDUCTOR_CONFIG")
	}
	os.Unsetenv("CONDUCTOR_CONFIG")

	if got := DefaultSettingsPath(); got != filepath.Join(DefaultConfigDir, "settings.yaml") {
		t.Errorf("DefaultSettingsPath() = %q, want %q", got, filepath.Join(DefaultConfigDir, "settings.yaml"))
	}

	os.Setenv("CONDUCTOR_CONFIG", "/custom/settings.yaml")
	if got := DefaultSettingsPath(); got != "/custom/settings.yaml" {
		t.Errorf("DefaultSettingsPath() with override = %q, want %q", got, "/custom/settings.yaml")
	}
}

func TestLoadFrom_ReadError(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "conductor-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dirAsFile := filepath.Join(tmpDir, "settings.yaml")
	if err := os.Mkdir(dirAsFile, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	if _, err := LoadFrom(dirAsFile); err == nil {
		t.Error("LoadFrom() should error when path is a directory")
	}
}

func TestSaveTo_MkdirError(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "conductor-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	blockingFile := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blockingFile, []byte("blocking"), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	path := filepath.Join(blockingFile, "subdir", "settings.yaml")
	s := &Settings{Store: "localhost:6379"}

	if err := s.SaveTo(path); err == nil {
		t.Error("SaveTo() should fail when directory creation fails")
	}
}
