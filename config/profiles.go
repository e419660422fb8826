package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/amelia-dev/amelia/workflow"
)

// profilesSchemaJSON constrains profiles.yaml's shape before any profile is
// accepted into the store, the same defend-untrusted-structured-input role
// the teacher's registry/service.go gives
// github.com/santhosh-tekuri/jsonschema/v6 for tool-call payloads
// (validatePayloadJSONAgainstSchema): compile once, validate every document
// against it, reject anything that doesn't conform before it reaches
// application code.
const profilesSchemaJSON = `{
  "type": "object",
  "properties": {
    "profiles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "tracker", "working_dir", "drivers"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z0-9_-]+$"},
          "tracker": {"type": "string", "minLength": 1},
          "working_dir": {"type": "string", "minLength": 1},
          "drivers": {
            "type": "object",
            "minProperties": 1,
            "additionalProperties": {"type": "string", "minLength": 1}
          },
          "strategy": {"type": "string"},
          "memory": {"type": "string"},
          "labels": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        },
        "additionalProperties": false
      }
    }
  },
  "required": ["profiles"],
  "additionalProperties": false
}`

// profilesDocument is the top-level profiles.yaml shape: a flat list of
// workflow.Profile, keyed by Name at load time.
type profilesDocument struct {
	Profiles []workflow.Profile `yaml:"profiles"`
}

// FileProfileStore implements workflow.ProfileStore by loading every
// profile from a single YAML file at construction time (spec.md §6
// "Profiles themselves are loaded and owned outside the core"). It never
// re-reads the file: an operator restarts the process to pick up edits,
// matching how the orchestrator itself has no hot-reload concept anywhere
// else in spec.md.
type FileProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]workflow.Profile
}

// LoadProfiles reads path, validates it against profilesSchemaJSON, and
// returns a ready FileProfileStore.
func LoadProfiles(path string) (*FileProfileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profiles file: %w", err)
	}

	var doc profilesDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse profiles yaml: %w", err)
	}

	if err := validateProfilesDocument(doc); err != nil {
		return nil, fmt.Errorf("config: profiles file failed schema validation: %w", err)
	}

	store := &FileProfileStore{profiles: make(map[string]workflow.Profile, len(doc.Profiles))}
	for _, p := range doc.Profiles {
		if _, dup := store.profiles[p.Name]; dup {
			return nil, fmt.Errorf("config: duplicate profile name %q", p.Name)
		}
		store.profiles[p.Name] = p
	}
	return store, nil
}

// Get implements workflow.ProfileStore.
func (s *FileProfileStore) Get(name string) (workflow.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	if !ok {
		return workflow.Profile{}, fmt.Errorf("config: profile %q not found", name)
	}
	return p, nil
}

// validateProfilesDocument re-marshals doc to JSON and checks it against
// profilesSchemaJSON. Round-tripping through JSON (rather than validating
// the YAML node tree directly) is deliberate: jsonschema/v6 only
// understands the subset of Go values encoding/json produces, and
// workflow.Profile already carries json tags for exactly this purpose.
func validateProfilesDocument(doc profilesDocument) error {
	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal([]byte(profilesSchemaJSON), &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal embedded schema: %w", err)
	}
	if err := compiler.AddResource("profiles-schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("profiles-schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal profiles for validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var payloadDoc any
	if err := dec.Decode(&payloadDoc); err != nil {
		return fmt.Errorf("decode profiles for validation: %w", err)
	}

	return schema.Validate(payloadDoc)
}
