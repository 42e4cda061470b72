// ABOUTME: Principal is the single identity abstraction produced by credential resolution
// ABOUTME: Records which trust domain (internal or external) vouched for it

package auth

// AuthSource identifies the trust domain that verified a credential.
type AuthSource string

const (
	AuthSourceInternal AuthSource = "internal"
	AuthSourceExternal AuthSource = "external"
)

// Principal is a resolved, authenticated identity. It is built fresh on every
// successful verification and passed by value, so holders cannot mutate
// another request's copy.
type Principal struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	AuthSource  AuthSource `json:"auth_source"`
}

// IsZero reports whether p is the zero Principal.
func (p Principal) IsZero() bool {
	return p.ID == ""
}
