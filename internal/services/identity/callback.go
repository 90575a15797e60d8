package identity

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/benvon/letmeask/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// CallbackParams are the query parameters of the provider's redirect.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// CallbackParamsFromQuery reads the redirect parameters from a query string.
func CallbackParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// HandleRedirect completes the sign-in waiting on params.State. On success
// the user is persisted and announced before the waiting SignInWithPopup
// returns the credential.
func (a *Auth) HandleRedirect(ctx context.Context, params CallbackParams) (*UserCredential, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAuthClosed
	}
	p, ok := a.pending[params.State]
	if ok {
		delete(a.pending, params.State)
	}
	a.mu.Unlock()
	if !ok {
		return nil, ErrUnknownState
	}

	cred, err := a.complete(ctx, p, params)
	p.resolve(cred, err)
	return cred, err
}

func (a *Auth) complete(ctx context.Context, p *pendingPopup, params CallbackParams) (cred *UserCredential, err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.complete_sign_in",
		attribute.String("provider_id", p.provider.ProviderID()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if params.Error != "" {
		return nil, &ProviderError{Code: params.Error, Description: params.ErrorDescription}
	}
	if params.Code == "" {
		return nil, ErrMissingCode
	}

	claims, err := a.backend.Exchange(ctx, params.Code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to complete sign-in: %w", err)
	}

	providerID := p.provider.ProviderID()
	user := userFromClaims(claims, providerID)
	if err := a.persistence.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	a.setCurrent(user)

	a.logger.Info("signed_in",
		zap.String("uid", user.UID),
		zap.String("provider_id", providerID),
	)
	return &UserCredential{
		User:       user.clone(),
		ProviderID: providerID,
		Claims:     claims,
	}, nil
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p>{{.Message}}</p>
<script>window.close();</script>
</body>
</html>
`))

// callbackCSP lets the page run its one inline script.
const callbackCSP = "default-src 'none'; script-src 'unsafe-inline'"

type callbackView struct {
	Title   string
	Message string
}

// CallbackHandler serves the provider's redirect URI.
func (a *Auth) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := a.HandleRedirect(r.Context(), CallbackParamsFromQuery(r.URL.Query()))

		status := http.StatusOK
		view := callbackView{Title: "Signed in", Message: "You are signed in. You can close this window."}
		if err != nil {
			var provErr *ProviderError
			switch {
			case errors.As(err, &provErr), errors.Is(err, ErrUnknownState), errors.Is(err, ErrMissingCode):
				status = http.StatusBadRequest
			case errors.Is(err, ErrAuthClosed):
				status = http.StatusServiceUnavailable
			default:
				status = http.StatusBadGateway
			}
			view = callbackView{Title: "Sign-in failed", Message: "Sign-in did not complete. You can close this window and try again."}
			a.logger.Warn("sign_in_callback_failed", zap.Error(err), zap.Int("status", status))
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", callbackCSP)
		w.WriteHeader(status)
		if err := callbackPage.Execute(w, view); err != nil {
			a.logger.Error("failed_to_render_callback_page", zap.Error(err))
		}
	})
}
