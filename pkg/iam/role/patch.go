package role

import (
	"encoding/json"
	"fmt"
)

// Patch is a partial update keyed by JSON field name.
type Patch map[string]json.RawMessage

type fieldSetter func(r *Role, raw json.RawMessage) error

// patchable lists every field a role patch may touch. Anything else,
// including name, is rejected.
var patchable = map[string]fieldSetter{
	"description": func(r *Role, raw json.RawMessage) error {
		return json.Unmarshal(raw, &r.Description)
	},
	"rights": func(r *Role, raw json.RawMessage) error {
		var rights []string
		if err := json.Unmarshal(raw, &rights); err != nil {
			return err
		}
		r.Rights = rights
		return nil
	},
	"isDefaultRole": func(r *Role, raw json.RawMessage) error {
		return json.Unmarshal(raw, &r.IsDefaultRole)
	},
}

// Apply returns a copy of r with p applied.
func (p Patch) Apply(r Role) (Role, error) {
	out := r.Clone()
	for field, raw := range p {
		set, ok := patchable[field]
		if !ok {
			return r, ErrInvalidPatch(fmt.Sprintf("field %q cannot be patched", field))
		}
		if err := set(&out, raw); err != nil {
			return r, ErrInvalidPatch(fmt.Sprintf("field %q: %v", field, err))
		}
	}
	return out, nil
}

// Touches reports whether the patch names field.
func (p Patch) Touches(field string) bool {
	_, ok := p[field]
	return ok
}
