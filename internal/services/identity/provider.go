package identity

import (
	"sort"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleProviderID identifies credentials issued through Google sign-in.
const GoogleProviderID = "google.com"

// AuthProvider is the credential strategy handed to SignInWithPopup.
type AuthProvider interface {
	ProviderID() string
	Scopes() []string
	AuthCodeOptions() []oauth2.AuthCodeOption
}

// GoogleAuthProvider requests an OpenID Connect identity from Google.
type GoogleAuthProvider struct {
	scopes []string
	params map[string]string
}

// NewGoogleAuthProvider returns a strategy asking for the openid, email and
// profile scopes. The profile scope is what releases name and picture.
func NewGoogleAuthProvider() *GoogleAuthProvider {
	return &GoogleAuthProvider{
		scopes: []string{oidc.ScopeOpenID, "email", "profile"},
		params: make(map[string]string),
	}
}

// AddScope requests an additional OAuth scope. Duplicates are ignored.
func (p *GoogleAuthProvider) AddScope(scope string) *GoogleAuthProvider {
	for _, s := range p.scopes {
		if s == scope {
			return p
		}
	}
	p.scopes = append(p.scopes, scope)
	return p
}

// SetCustomParameters sets extra authorization request parameters such as
// prompt=select_account. It replaces previously set parameters.
func (p *GoogleAuthProvider) SetCustomParameters(params map[string]string) *GoogleAuthProvider {
	p.params = make(map[string]string, len(params))
	for k, v := range params {
		p.params[k] = v
	}
	return p
}

func (p *GoogleAuthProvider) ProviderID() string { return GoogleProviderID }

func (p *GoogleAuthProvider) Scopes() []string {
	out := make([]string, len(p.scopes))
	copy(out, p.scopes)
	return out
}

func (p *GoogleAuthProvider) AuthCodeOptions() []oauth2.AuthCodeOption {
	keys := make([]string, 0, len(p.params))
	for k := range p.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, p.params[k]))
	}
	return opts
}
