// Package settings manages persistent conductord configuration.
package settings

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fabricwright/conductor/internal/inventory"
)

// DefaultConfigDir is the default directory conductord reads its config and
// vault key from when no override is given.
const DefaultConfigDir = "/etc/conductor"

const (
	// DefaultAdmissionLockTTL is the default auto-release time for a
	// per-entity admission lock (spec §6).
	DefaultAdmissionLockTTL = "10m"

	// DefaultSweepIntervalSeconds is the default interval between
	// inbound/outbound reconciler sweeps (spec §5).
	DefaultSweepIntervalSeconds = 60
)

// Settings holds persistent conductord configuration, loaded from YAML.
type Settings struct {
	// Store is the Redis-compatible backing store address, e.g.
	// "localhost:6379".
	Store   string `yaml:"store,omitempty"`
	StoreDB int    `yaml:"store_db,omitempty"`

	// InventoryURL and BMCURL are the primary Inventory and BMC API
	// endpoints.
	InventoryURL string `yaml:"inventory_url,omitempty"`
	BMCURL       string `yaml:"bmc_url,omitempty"`

	// Secondaries lists additional Inventory replicas mirrored to on
	// outbound sweeps (spec §9).
	Secondaries []inventory.Secondary `yaml:"secondaries,omitempty"`

	// ManagedByTag is the Inventory tag identifying devices this instance
	// manages (spec §3).
	ManagedByTag string `yaml:"managed_by_tag,omitempty"`

	// Queries is the managed-set filter list (spec §4.2).
	Queries []inventory.Query `yaml:"queries,omitempty"`

	// VaultKeyPath is the path to the nacl secretbox key used to decrypt
	// ironic_parameters/secrets custom fields (spec §9).
	VaultKeyPath string `yaml:"vault_key_path,omitempty"`

	// BaseIronicParameters seeds every node's driver_info/extra before the
	// per-device ironic_parameters override is merged in (spec §4.2).
	BaseIronicParameters map[string]any `yaml:"base_ironic_parameters,omitempty"`

	// AdmissionLockTTL is the auto-release duration string (e.g. "10m")
	// for per-entity and global admission locks.
	AdmissionLockTTL string `yaml:"admission_lock_ttl,omitempty"`

	// SweepIntervalSeconds is the interval between reconciler sweeps.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds,omitempty"`

	// Generator configures the SONiC configuration generator (spec §4.4).
	Generator GeneratorSettings `yaml:"generator,omitempty"`

	// AuditLogPath overrides the default audit log path.
	AuditLogPath string `yaml:"audit_log_path,omitempty"`

	// AuditMaxSizeMB is the max audit log size in MB before rotation.
	AuditMaxSizeMB int `yaml:"audit_max_size_mb,omitempty"`

	// AuditMaxBackups is the max number of rotated audit log files.
	AuditMaxBackups int `yaml:"audit_max_backups,omitempty"`

	// LogLevel is the logrus level name ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log_level,omitempty"`

	// LogJSON selects JSON-formatted log output instead of text.
	LogJSON bool `yaml:"log_json,omitempty"`
}

// GeneratorSettings is the settings.yaml "generator" block.
type GeneratorSettings struct {
	DefaultHWSKU   string            `yaml:"default_hwsku,omitempty"`
	RoleHWSKU      map[string]string `yaml:"role_hwsku,omitempty"`
	PortConfigDirs map[string]string `yaml:"port_config_dirs,omitempty"`
	ExportDir      string            `yaml:"export_dir,omitempty"`
	FilePrefix     string            `yaml:"file_prefix,omitempty"`
	FileSuffix     string            `yaml:"file_suffix,omitempty"`
}

const (
	// DefaultAuditMaxSizeMB is the default maximum audit log size in megabytes.
	DefaultAuditMaxSizeMB = 10

	// DefaultAuditMaxBackups is the default maximum number of rotated audit log files.
	DefaultAuditMaxBackups = 10
)

// DefaultSettingsPath returns the default path for the settings file.
func DefaultSettingsPath() string {
	if p := os.Getenv("CONDUCTOR_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultConfigDir, "settings.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields zero
// Settings rather than an error, so a fresh conductord install runs on
// defaults.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetAuditLogPath returns the audit log path with a fallback default.
func (s *Settings) GetAuditLogPath() string {
	if s.AuditLogPath != "" {
		return s.AuditLogPath
	}
	return "/var/log/conductor/audit.log"
}

// GetAuditMaxSizeMB returns the audit max size in MB with a default of 10.
func (s *Settings) GetAuditMaxSizeMB() int {
	if s.AuditMaxSizeMB > 0 {
		return s.AuditMaxSizeMB
	}
	return DefaultAuditMaxSizeMB
}

// GetAuditMaxBackups returns the audit max backups with a default of 10.
func (s *Settings) GetAuditMaxBackups() int {
	if s.AuditMaxBackups > 0 {
		return s.AuditMaxBackups
	}
	return DefaultAuditMaxBackups
}

// GetSweepIntervalSeconds returns the sweep interval with a fallback
// default.
func (s *Settings) GetSweepIntervalSeconds() int {
	if s.SweepIntervalSeconds > 0 {
		return s.SweepIntervalSeconds
	}
	return DefaultSweepIntervalSeconds
}

// GetAdmissionLockTTL returns the configured TTL string, or the package
// default when unset.
func (s *Settings) GetAdmissionLockTTL() string {
	if s.AdmissionLockTTL != "" {
		return s.AdmissionLockTTL
	}
	return DefaultAdmissionLockTTL
}

// Clear resets all settings to defaults.
func (s *Settings) Clear() {
	*s = Settings{}
}
