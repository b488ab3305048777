// Package iam holds the error taxonomy shared by the identity and access
// management packages below it.
//
//   - session: issued tokens, per-token signing keys, minting, verification
//   - user, role, right, apitoken: the authorization aggregates
//   - invalidation: purges sessions when identity-relevant state changes
//   - adminguard: keeps at least one administrator in the system
//   - auth: password login, nonce check, fiber middleware, throttling
//   - federation: consumes verified identities from OAuth2 providers
//   - usermail: login notifications and password reset mails
//   - bootstrap: baseline rights and roles
//   - iamapi, iamcontainer: HTTP surface and wiring
//
// Every error crossing these packages is an *errx.Error registered here or
// in the package's own registry.
package iam
