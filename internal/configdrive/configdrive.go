// Package configdrive builds the first-boot automation document passed to
// the BMC alongside a deploy provision-state transition (spec §4.5).
//
// Grounded on original_source/osism/commands/baremetal.py's bootstrap
// playbook assembly: a single Ansible play templated from the Device's
// local_context_data plus selected custom_fields, with the
// osism.commons.network / osism.services.frr roles appended only when
// netplan_parameters / frr_parameters are present. Rather than shelling out
// to an ISO builder, this module uses Ironic's own "config drive as a dict"
// convention (meta_data/user_data, packed server-side) so the
// BMC boundary stays pure Go.
package configdrive

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fabricwright/conductor/internal/errs"
	"github.com/fabricwright/conductor/internal/model"
)

// baseRoles are applied to every deploy regardless of custom_fields content.
var baseRoles = []string{"osism.commons.hostname", "osism.commons.hosts", "osism.commons.operator"}

type play struct {
	Name        string         `yaml:"name"`
	Hosts       string         `yaml:"hosts"`
	Connection  string         `yaml:"connection"`
	GatherFacts bool           `yaml:"gather_facts"`
	Vars        map[string]any `yaml:"vars"`
	Roles       []string       `yaml:"roles"`
	Tasks       []task         `yaml:"tasks"`
}

type task struct {
	Name     string         `yaml:"name"`
	Systemd  map[string]any `yaml:"ansible.builtin.systemd"`
}

// Build assembles the config-drive blob for d, ready to pass to
// bmc.Client.SetProvisionState's configDrive argument. localContextData is
// the Device's previously-generated local_context_data (spec §4.4.8 SONiC
// config, or any operator-supplied default_vars); it seeds the play's vars
// and is never mutated.
//
// Failure to build aborts only this Device's deploy (spec §4.5): callers
// should treat any returned error as Validation-class, not Transient.
func Build(d *model.Device, localContextData map[string]any) ([]byte, error) {
	vars := map[string]any{}
	for k, v := range localContextData {
		vars[k] = v
	}
	vars["hostname_name"] = d.Name
	vars["hosts_type"] = "template"

	roles := append([]string{}, baseRoles...)

	if len(d.CustomFields.NetplanParameters) > 0 {
		vars["network_allow_service_restart"] = true
		for k, v := range d.CustomFields.NetplanParameters {
			vars[k] = v
		}
		roles = append(roles, "osism.commons.network")
	}
	if len(d.CustomFields.FRRParameters) > 0 {
		vars["frr_dummy_interface"] = "loopback0"
		for k, v := range d.CustomFields.FRRParameters {
			vars[k] = v
		}
		roles = append(roles, "osism.services.frr")
	}

	p := play{
		Name:        "Run bootstrap",
		Hosts:       "localhost",
		Connection:  "local",
		GatherFacts: true,
		Vars:        vars,
		Roles:       roles,
		Tasks: []task{{
			Name:    "Restart rsyslog service after hostname change",
			Systemd: map[string]any{"name": "rsyslog", "state": "restarted"},
		}},
	}

	playbookYAML, err := yaml.Marshal([]play{p})
	if err != nil {
		return nil, errs.NewValidation(d.Name, "marshalling bootstrap playbook: "+err.Error())
	}

	doc := map[string]any{
		"meta_data": map[string]any{
			"uuid":              uuid.NewString(),
			"hostname":          d.Name,
			"public_keys":       map[string]any{},
			"instance-id":       "iid-" + d.Name,
			"launch-index":      0,
		},
		"user_data": "#cloud-config\n" + string(mustYAML(map[string]any{
			"write_files": []map[string]any{{
				"path":        "/etc/conductor-bootstrap/playbook.yml",
				"content":     base64.StdEncoding.EncodeToString(playbookYAML),
				"encoding":    "b64",
				"permissions": "0600",
			}},
		})),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.NewValidation(d.Name, "marshalling config drive document: "+err.Error())
	}
	return raw, nil
}

func mustYAML(v map[string]any) []byte {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
