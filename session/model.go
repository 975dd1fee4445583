package session

import "time"

// CredentialPair is an access token and refresh token issued and rotated
// together.
type CredentialPair struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
}

// Valid reports whether both tokens are present.
func (p CredentialPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Equal compares every field. IssuedAt is compared with time.Time.Equal.
func (p CredentialPair) Equal(other CredentialPair) bool {
	return p.AccessToken == other.AccessToken &&
		p.RefreshToken == other.RefreshToken &&
		p.IssuedAt.Equal(other.IssuedAt)
}

// Session is the stored credential state of one principal.
//
// Session values returned by a [Store] are copies; mutating them does not
// affect persisted state.
type Session struct {
	PrincipalID string
	Pair        CredentialPair
	CreatedAt   time.Time
}
