// Package identity is the client side of the identity provider: it keeps the
// provider session, streams auth-state changes to listeners and drives the
// interactive popup sign-in (authorization code with PKCE).
//
// Protocol details (discovery, token exchange, ID token verification) live
// behind Backend; see the oidc package for the production implementation.
package identity
