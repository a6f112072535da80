// Package inventory defines the Inventory Client boundary (spec §2, §6):
// read/write access to the DCIM graph. It is consumed, not owned — this
// package holds the interface plus an in-memory fake used throughout the
// test suite, grounded on the teacher's internal/testutil fixture-builder
// idiom.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/itchyny/gojq"

	"github.com/fabricwright/conductor/internal/model"
)

// Query is one predicate set from the managed-set filter list (spec §4.2).
// Location and rack names are resolved to ids by the client before use.
// Filter, when set, is a jq expression evaluated against the device's
// custom_fields.extra map; only devices for which it yields a truthy
// result pass, letting an operator express ad hoc predicates the typed
// fields below don't cover without growing this struct per case.
type Query struct {
	Site     string
	Region   string
	Location string
	Rack     string
	Tag      string
	State    string
	Filter   string
}

// compiledFilter caches the parsed form of a non-empty Query.Filter.
type compiledFilter struct {
	code *gojq.Code
}

// compile parses and compiles q.Filter, returning nil if Filter is empty.
func (q Query) compile() (*compiledFilter, error) {
	if q.Filter == "" {
		return nil, nil
	}
	parsed, err := gojq.Parse(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("inventory: parsing filter %q: %w", q.Filter, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("inventory: compiling filter %q: %w", q.Filter, err)
	}
	return &compiledFilter{code: code}, nil
}

// matches evaluates the compiled filter against extra, treating any
// non-false, non-nil, non-error result as a match. A nil receiver (no
// filter configured) always matches.
func (f *compiledFilter) matches(extra map[string]any) bool {
	if f == nil {
		return true
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return false
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return false
	}
	iter := f.code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := v.(error); isErr {
			_ = err
			return false
		}
		if b, isBool := v.(bool); isBool {
			if b {
				return true
			}
			continue
		}
		if v != nil {
			return true
		}
	}
}

// Secondary identifies one secondary Inventory replica plus its optional
// identity filter (spec §9 "Multi-Inventory fan-out").
type Secondary struct {
	Name    string
	Site    string
	BaseURL string
}

// Matches reports whether filter (a substring) matches this secondary's
// name, site, or base URL. An empty filter matches everything.
func (s Secondary) Matches(filter string) bool {
	if filter == "" {
		return true
	}
	return contains(s.Name, filter) || contains(s.Site, filter) || contains(s.BaseURL, filter)
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// JournalEntry is one entry written via Client.CreateJournalEntry.
type JournalEntry struct {
	Device  string
	Kind    string // "info" | "warning" | "success" | "failure"
	Message string
}

// Client is the Inventory API boundary the core consumes.
type Client interface {
	// FilterDevices returns devices matching q, against replica name
	// "" (primary) or a named secondary.
	FilterDevices(ctx context.Context, replica string, q Query) ([]*model.Device, error)
	GetDevice(ctx context.Context, replica, name string) (*model.Device, error)
	Graph(ctx context.Context, replica string, deviceID string) (*model.Graph, error)

	// SetCustomFields writes only the core-owned keys (model.IsOwnedKey);
	// implementations MUST reject attempts to write any other key.
	SetCustomFields(ctx context.Context, replica, deviceName string, fields map[string]any) error
	GetLocalContextData(ctx context.Context, replica, deviceName, key string) (any, bool, error)
	SetLocalContextData(ctx context.Context, replica, deviceName, key string, value any) error

	CreateJournalEntry(ctx context.Context, replica string, entry JournalEntry) error

	Secondaries() []Secondary
	Status(ctx context.Context, replica string) error
}

// Fake is an in-memory Client used by unit and integration tests. It is
// intentionally simple: one primary plus zero or more named secondaries,
// each with its own device/graph/localcontext state.
type Fake struct {
	replicas map[string]*fakeReplica
	secs     []Secondary
}

type fakeReplica struct {
	devices     map[string]*model.Device // by name
	graphs      map[string]*model.Graph  // by device id
	localCtx    map[string]map[string]any
	journal     []JournalEntry
	unreachable bool
}

// NewFake builds an empty Fake with the given secondaries registered (but
// not yet populated — call Seed per replica).
func NewFake(secondaries []Secondary) *Fake {
	f := &Fake{replicas: map[string]*fakeReplica{"": newFakeReplica()}, secs: secondaries}
	for _, s := range secondaries {
		f.replicas[s.Name] = newFakeReplica()
	}
	return f
}

func newFakeReplica() *fakeReplica {
	return &fakeReplica{
		devices:  map[string]*model.Device{},
		graphs:   map[string]*model.Graph{},
		localCtx: map[string]map[string]any{},
	}
}

// Seed registers a device (and its graph) on the given replica ("" =
// primary).
func (f *Fake) Seed(replica string, d *model.Device, g *model.Graph) {
	r := f.replicas[replica]
	r.devices[d.Name] = d
	r.graphs[d.ID] = g
}

// SetUnreachable marks a secondary as unreachable for fan-out tests.
func (f *Fake) SetUnreachable(replica string, unreachable bool) {
	f.replicas[replica].unreachable = unreachable
}

func (f *Fake) Secondaries() []Secondary { return f.secs }

func (f *Fake) Status(ctx context.Context, replica string) error {
	r, ok := f.replicas[replica]
	if !ok {
		return errNotFound("replica", replica)
	}
	if r.unreachable {
		return errUnreachable(replica)
	}
	return nil
}

func (f *Fake) FilterDevices(ctx context.Context, replica string, q Query) ([]*model.Device, error) {
	r, ok := f.replicas[replica]
	if !ok || r.unreachable {
		return nil, errUnreachable(replica)
	}
	filter, err := q.compile()
	if err != nil {
		return nil, err
	}
	var out []*model.Device
	for _, d := range r.devices {
		if q.Site != "" && q.Site != d.CustomFields.Extra["site"] {
			continue
		}
		if q.Tag != "" && !d.HasTag(q.Tag) {
			continue
		}
		if !filter.matches(d.CustomFields.Extra) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) GetDevice(ctx context.Context, replica, name string) (*model.Device, error) {
	r, ok := f.replicas[replica]
	if !ok || r.unreachable {
		return nil, errUnreachable(replica)
	}
	d, ok := r.devices[name]
	if !ok {
		return nil, nil
	}
	return d, nil
}

func (f *Fake) Graph(ctx context.Context, replica, deviceID string) (*model.Graph, error) {
	r, ok := f.replicas[replica]
	if !ok || r.unreachable {
		return nil, errUnreachable(replica)
	}
	g, ok := r.graphs[deviceID]
	if !ok {
		return model.NewGraph(), nil
	}
	return g, nil
}

func (f *Fake) SetCustomFields(ctx context.Context, replica, deviceName string, fields map[string]any) error {
	r, ok := f.replicas[replica]
	if !ok {
		return errNotFound("replica", replica)
	}
	if r.unreachable {
		return errUnreachable(replica)
	}
	d, ok := r.devices[deviceName]
	if !ok {
		return errNotFound("device", deviceName)
	}
	for key, value := range fields {
		if !model.IsOwnedKey(key) {
			return errNotOwned(key)
		}
		applyCustomField(d, key, value)
	}
	return nil
}

func applyCustomField(d *model.Device, key string, value any) {
	switch key {
	case "provision_state":
		d.CustomFields.ProvisionState, _ = value.(string)
	case "power_state":
		d.CustomFields.PowerState, _ = value.(string)
	case "maintenance":
		d.CustomFields.Maintenance, _ = value.(bool)
	case "ironic_state":
		d.CustomFields.IronicState, _ = value.(string)
	case "introspection_state":
		d.CustomFields.IntrospectionState, _ = value.(string)
	case "deployment_state":
		d.CustomFields.DeploymentState, _ = value.(string)
	case "device_state":
		d.CustomFields.DeviceState, _ = value.(string)
	case "device_transition":
		d.CustomFields.DeviceTransition, _ = value.(string)
	case "network_interface_name":
		d.CustomFields.NetworkInterfaceName, _ = value.(string)
	}
}

func (f *Fake) GetLocalContextData(ctx context.Context, replica, deviceName, key string) (any, bool, error) {
	r, ok := f.replicas[replica]
	if !ok {
		return nil, false, errNotFound("replica", replica)
	}
	m, ok := r.localCtx[deviceName]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *Fake) SetLocalContextData(ctx context.Context, replica, deviceName, key string, value any) error {
	r, ok := f.replicas[replica]
	if !ok {
		return errNotFound("replica", replica)
	}
	if r.localCtx[deviceName] == nil {
		r.localCtx[deviceName] = map[string]any{}
	}
	r.localCtx[deviceName][key] = value
	return nil
}

func (f *Fake) CreateJournalEntry(ctx context.Context, replica string, entry JournalEntry) error {
	r, ok := f.replicas[replica]
	if !ok {
		return errNotFound("replica", replica)
	}
	r.journal = append(r.journal, entry)
	return nil
}

// Journal returns all journal entries recorded against a replica, for test
// assertions.
func (f *Fake) Journal(replica string) []JournalEntry { return f.replicas[replica].journal }
