package identity

import (
	"context"
	"fmt"
	"io"
)

// PopupOpener shows the provider's authorization page to the user.
type PopupOpener interface {
	Open(ctx context.Context, authURL string) error
}

// PopupOpenerFunc adapts a function to PopupOpener.
type PopupOpenerFunc func(ctx context.Context, authURL string) error

func (f PopupOpenerFunc) Open(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

type openerKey struct{}

// WithPopupOpener overrides the Auth's default opener for sign-ins started
// with the returned context.
func WithPopupOpener(ctx context.Context, opener PopupOpener) context.Context {
	return context.WithValue(ctx, openerKey{}, opener)
}

func popupOpenerFrom(ctx context.Context) PopupOpener {
	opener, _ := ctx.Value(openerKey{}).(PopupOpener)
	return opener
}

// ConsoleOpener prints the authorization URL for the user to open.
func ConsoleOpener(w io.Writer) PopupOpener {
	return PopupOpenerFunc(func(_ context.Context, authURL string) error {
		_, err := fmt.Fprintf(w, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
		return err
	})
}

type popupResult struct {
	cred *UserCredential
	err  error
}

type pendingPopup struct {
	provider AuthProvider
	verifier string
	result   chan popupResult
}

func (p *pendingPopup) resolve(cred *UserCredential, err error) {
	select {
	case p.result <- popupResult{cred: cred, err: err}:
	default:
	}
}
