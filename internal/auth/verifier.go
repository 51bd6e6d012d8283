package auth

import "fmt"

// Verifier turns Credentials into an Identity according to its Mode.
type Verifier struct {
	mode   Mode
	secret string
	issuer string
}

// NewVerifier creates a verifier. secret and issuer only matter in token mode.
func NewVerifier(mode Mode, secret, issuer string) (*Verifier, error) {
	switch mode {
	case ModeToken, ModeTrusted:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return &Verifier{mode: mode, secret: secret, issuer: issuer}, nil
}

// Mode returns the verification mode.
func (v *Verifier) Mode() Mode {
	return v.mode
}

// Verify resolves credentials. In token mode the user id and role come from
// the token alone; any userId/role in the payload is ignored.
//
// Parameters:
//   - c: Credentials from a dashboard auth event or HTTP headers
//
// Returns:
//   - Identity: The verified user and admin flag
//   - error: ErrUserIDRequired in trusted mode, ErrTokenMissing or a token
//     parse error in token mode
func (v *Verifier) Verify(c Credentials) (Identity, error) {
	if v.mode == ModeTrusted {
		if c.UserID == "" {
			return Identity{}, ErrUserIDRequired
		}
		return Identity{UserID: c.UserID, IsAdmin: IsAdmin(c.Role)}, nil
	}
	return v.VerifyToken(c.Token)
}

// VerifyToken resolves a bare session token, as presented in an HTTP
// Authorization header.
func (v *Verifier) VerifyToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}
	claims, err := ParseToken(token, v.secret, v.issuer)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.Subject, IsAdmin: IsAdmin(claims.Role)}, nil
}
