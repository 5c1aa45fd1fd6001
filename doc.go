// Package identity issues and validates JWT sessions for a user directory and
// coordinates account registration with a downstream workflow.
//
// Sessions:
//   - TokenIssuer signs a short lived access token (typ at+jwt) and a long
//     lived refresh token (typ rt+jwt) with the current key of a
//     SigningKeyProvider. Both carry a jti so individual tokens can be traced.
//   - TokenValidator reports why a refresh token was rejected (expired,
//     malformed, wrong type, bad signature, issuer mismatch). Expiry wins over
//     a bad signature.
//
// Signing keys:
//   - KeyRing holds asymmetric keys (ES256, RS256 or EdDSA), generates the
//     first one on demand and rotates once the current key passes its window.
//     Readers see an immutable snapshot and rotations are serialized.
//   - PublishKeySet renders the retained public keys as a JWKS document so
//     other services can verify access tokens without sharing secrets.
//
// Registration:
//   - RegistrationCoordinator creates the identity, asks the downstream
//     workflow over an EventBus to accept it and deletes the identity again
//     when the workflow rejects it, times out or cannot be reached. The
//     compensating delete survives caller cancellation.
//
// Claims decoration:
//   - ClaimsDecorator is invoked before access tokens are signed. Decorators
//     may add extension claims while protected claims (sub, iss, aud, exp,
//     etc.) remain immutable.
//
// Activity sinks:
//   - ActivitySink receives login, refresh, registration and key rotation
//     events. Sinks run best effort so auditing never blocks authentication.
package identity
