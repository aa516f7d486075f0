package models

import (
	"fmt"

	"golang.org/x/crypto/ssh"

	"cis/internal/trust"
)

// Validate enforces the structural rules JSON Schema cannot express: known
// metadata enums, scalar payloads and parseable SSH keys.
func (p *Profile) Validate() error {
	for _, f := range p.Attributes() {
		a := f.Attribute
		if !a.Metadata.Classification.IsValid() {
			return trust.SchemaFailure(fmt.Sprintf("%s: unknown classification %q", f.Path, a.Metadata.Classification), nil)
		}
		if !a.Metadata.Display.IsValid() {
			return trust.SchemaFailure(fmt.Sprintf("%s: unknown display %q", f.Path, a.Metadata.Display), nil)
		}
		for k, v := range a.Values {
			switch v.(type) {
			case nil, string:
			default:
				return trust.SchemaFailure(fmt.Sprintf("%s: values[%s] must be a string or null", f.Path, k), nil)
			}
		}
	}
	for name, v := range p.SSHPublicKeys.Values {
		key, _ := v.(string)
		if key == "" {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return trust.SchemaFailure(fmt.Sprintf("ssh_public_keys[%s] is not an authorized key", name), err)
		}
	}
	return nil
}
