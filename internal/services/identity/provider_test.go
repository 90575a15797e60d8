package identity

import (
	"net/url"
	"reflect"
	"testing"

	"golang.org/x/oauth2"
)

func TestGoogleAuthProvider_Scopes(t *testing.T) {
	t.Parallel()

	p := NewGoogleAuthProvider().AddScope("email").AddScope("https://www.googleapis.com/auth/calendar.readonly")
	want := []string{"openid", "email", "profile", "https://www.googleapis.com/auth/calendar.readonly"}
	if got := p.Scopes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Scopes() = %v, want %v", got, want)
	}
	if p.ProviderID() != GoogleProviderID {
		t.Errorf("ProviderID() = %q, want %q", p.ProviderID(), GoogleProviderID)
	}

	scopes := p.Scopes()
	scopes[0] = "mutated"
	if p.Scopes()[0] != "openid" {
		t.Error("Scopes() returned internal slice")
	}
}

func TestGoogleAuthProvider_CustomParameters(t *testing.T) {
	t.Parallel()

	p := NewGoogleAuthProvider().
		SetCustomParameters(map[string]string{"login_hint": "old@example.com"}).
		SetCustomParameters(map[string]string{"prompt": "select_account", "hd": "example.com"})

	cfg := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{AuthURL: "https://idp.test/auth"},
	}
	raw := cfg.AuthCodeURL("state", p.AuthCodeOptions()...)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()

	if got := q.Get("prompt"); got != "select_account" {
		t.Errorf("prompt = %q, want select_account", got)
	}
	if got := q.Get("hd"); got != "example.com" {
		t.Errorf("hd = %q, want example.com", got)
	}
	if q.Has("login_hint") {
		t.Error("login_hint should have been replaced")
	}
}
