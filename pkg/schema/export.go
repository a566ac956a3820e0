package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go SkillDefinition struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&SkillDefinition{})
	s.ID = "https://github.com/ormasoftchile/skillrun/schemas/skill-v0.json"
	s.Title = "Skill Definition v0"
	s.Description = "Schema for skillrun skill YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
