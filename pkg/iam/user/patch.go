package user

import (
	"encoding/json"
	"fmt"
)

// Patch is a partial update keyed by JSON field name.
type Patch map[string]json.RawMessage

// PasswordField carries a plaintext password through a patch. The service
// hashes it after Apply.
const PasswordField = "password"

type fieldSetter func(u *User, raw json.RawMessage) error

func stringSetter(field func(u *User) *string) fieldSetter {
	return func(u *User, raw json.RawMessage) error {
		return json.Unmarshal(raw, field(u))
	}
}

func boolSetter(field func(u *User) *bool) fieldSetter {
	return func(u *User, raw json.RawMessage) error {
		return json.Unmarshal(raw, field(u))
	}
}

var adminPatchable = map[string]fieldSetter{
	"firstName": stringSetter(func(u *User) *string { return &u.FirstName }),
	"lastName":  stringSetter(func(u *User) *string { return &u.LastName }),
	"phone":     stringSetter(func(u *User) *string { return &u.Phone }),
	"mobile":    stringSetter(func(u *User) *string { return &u.Mobile }),
	"locale":    stringSetter(func(u *User) *string { return &u.Locale }),
	"email": func(u *User, raw json.RawMessage) error {
		var email string
		if err := json.Unmarshal(raw, &email); err != nil {
			return err
		}
		u.Email = NormalizeEmail(email)
		return nil
	},
	"enabled":       boolSetter(func(u *User) *bool { return &u.Enabled }),
	"loginDisabled": boolSetter(func(u *User) *bool { return &u.LoginDisabled }),
	"roles": func(u *User, raw json.RawMessage) error {
		var roles []string
		if err := json.Unmarshal(raw, &roles); err != nil {
			return err
		}
		u.Roles = roles
		return nil
	},
	// handled by the caller
	PasswordField: func(*User, json.RawMessage) error { return nil },
}

var selfPatchable = map[string]bool{
	"firstName": true,
	"lastName":  true,
	"phone":     true,
	"mobile":    true,
	"locale":    true,
}

// Apply returns a copy of u with p applied using the admin field set.
func (p Patch) Apply(u User) (User, error) {
	return p.apply(u, func(string) bool { return true })
}

// ApplySelf applies only the fields a user may change on their own profile.
func (p Patch) ApplySelf(u User) (User, error) {
	return p.apply(u, func(field string) bool { return selfPatchable[field] })
}

// Password returns the plaintext password carried by the patch, if any.
func (p Patch) Password() (string, bool, error) {
	raw, ok := p[PasswordField]
	if !ok {
		return "", false, nil
	}
	var pw string
	if err := json.Unmarshal(raw, &pw); err != nil {
		return "", true, ErrInvalidPatch("field \"password\" must be a string")
	}
	return pw, true, nil
}

func (p Patch) apply(u User, allowed func(string) bool) (User, error) {
	out := u.Clone()
	for field, raw := range p {
		set, ok := adminPatchable[field]
		if !ok || !allowed(field) {
			return u, ErrInvalidPatch(fmt.Sprintf("field %q cannot be patched", field))
		}
		if err := set(&out, raw); err != nil {
			return u, ErrInvalidPatch(fmt.Sprintf("field %q: %v", field, err))
		}
	}
	return out, nil
}
