package crypto

import "errors"

// ErrAuthentication is returned for every integrity failure: a failed GCM
// tag check, a failed key unwrap, or invalid CBC padding. The message is
// deliberately generic so callers cannot tell a wrong password from
// corrupted data.
var ErrAuthentication = errors.New("decryption failed: invalid password or corrupted data")

// ErrKeyDerivation is returned for invalid PBKDF2 parameters.
var ErrKeyDerivation = errors.New("key derivation failed: invalid parameters")
