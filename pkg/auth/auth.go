package auth

import "errors"

var (
	// ErrMissingSecret indicates the request carried no secret at all.
	ErrMissingSecret = errors.New("missing secret")
	// ErrSecretMismatch indicates the supplied secret did not match the configured one.
	ErrSecretMismatch = errors.New("invalid secret")
)

// VerifySecret compares the request secret against the configured shared
// secret. An empty configured secret disables the check entirely.
func VerifySecret(configured, provided string) error {
	if configured == "" {
		return nil
	}
	if provided == "" {
		return ErrMissingSecret
	}
	if provided != configured {
		return ErrSecretMismatch
	}
	return nil
}
