package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/benvon/letmeask/internal/middleware"
	"github.com/benvon/letmeask/internal/request"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/benvon/letmeask/internal/services/oidc"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DefaultPopupStartTimeout bounds how long GetGooglePopup waits for the
// sign-in to produce the provider URL.
const DefaultPopupStartTimeout = 10 * time.Second

// LoginConfigSource provides the frontend login configuration
type LoginConfigSource interface {
	GetLoginConfig(ctx context.Context, providerName string) (*oidc.LoginConfig, error)
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	loginConfig  LoginConfigSource
	providerName string
	sessions     middleware.SessionSource
	popupWait    time.Duration
	logger       *zap.Logger
}

// NewAuthHandler creates a new auth handler. Sign-ins run in the caller's
// browser session, created from sessions when the caller has none.
func NewAuthHandler(loginConfig LoginConfigSource, providerName string, sessions middleware.SessionSource, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		loginConfig:  loginConfig,
		providerName: providerName,
		sessions:     sessions,
		popupWait:    DefaultPopupStartTimeout,
		logger:       logger,
	}
}

// RegisterRoutes registers auth routes on the given router
// The router should already have the /api/v1/auth prefix and run
// middleware.Auth. limit wraps the sign-in routes; it may be nil.
func (h *AuthHandler) RegisterRoutes(r *mux.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	r.HandleFunc("/oidc/login", h.GetOIDCLogin).Methods("GET")
	r.Handle("/me", middleware.RequireUser(http.HandlerFunc(h.GetMe))).Methods("GET")
	r.Handle("/google/popup", limit(middleware.StartSession(h.sessions, h.logger)(http.HandlerFunc(h.GetGooglePopup)))).Methods("GET")
	r.Handle("/google/callback", limit(http.HandlerFunc(h.GetGoogleCallback))).Methods("GET")
}

// GetOIDCLogin returns OIDC configuration for frontend
func (h *AuthHandler) GetOIDCLogin(w http.ResponseWriter, r *http.Request) {
	loginConfig, err := h.loginConfig.GetLoginConfig(r.Context(), h.providerName)
	if err != nil {
		h.logger.Error("failed_to_get_login_config", zap.String("provider", h.providerName), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Failed to get OIDC configuration", "OIDC provider is not configured")
		return
	}

	respondJSON(w, http.StatusOK, loginConfig)
}

// GetMe returns the user signed in to the caller's session. It runs behind
// middleware.RequireUser.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, request.UserFromContext(r))
}

// GetGooglePopup starts a Google sign-in in the caller's session and
// redirects the caller, normally a freshly opened popup window, to the
// provider. The sign-in keeps running after this request and finishes when
// the provider calls back.
func (h *AuthHandler) GetGooglePopup(w http.ResponseWriter, r *http.Request) {
	auth, ok := request.AuthFromContext(r)
	if !ok || auth.SignInWithGoogle == nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Sign-in is not available")
		return
	}
	h.startSignIn(w, r, auth.SignInWithGoogle)
}

func (h *AuthHandler) startSignIn(w http.ResponseWriter, r *http.Request, signIn func(ctx context.Context) error) {
	urls := make(chan string, 1)
	opener := identity.PopupOpenerFunc(func(_ context.Context, authURL string) error {
		select {
		case urls <- authURL:
		default:
		}
		return nil
	})

	// The sign-in outlives this request
	ctx := identity.WithPopupOpener(context.WithoutCancel(r.Context()), opener)
	errs := make(chan error, 1)
	go func() {
		err := signIn(ctx)
		if err != nil {
			h.logger.Warn("google_sign_in_failed", zap.Error(err))
		} else {
			h.logger.Debug("google_sign_in_finished")
		}
		errs <- err
	}()

	timer := time.NewTimer(h.popupWait)
	defer timer.Stop()

	select {
	case authURL := <-urls:
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, authURL, http.StatusFound)
	case err := <-errs:
		status := http.StatusBadGateway
		if errors.Is(err, identity.ErrPopupBlocked) || errors.Is(err, identity.ErrAuthClosed) {
			status = http.StatusServiceUnavailable
		}
		if err == nil {
			err = errors.New("sign-in finished without a provider redirect")
		}
		respondJSONError(w, status, "Sign-in failed", err.Error())
	case <-timer.C:
		respondJSONError(w, http.StatusGatewayTimeout, "Sign-in failed", "Timed out starting sign-in")
	case <-r.Context().Done():
	}
}

// GetGoogleCallback serves the provider's redirect URI for the sign-in
// pending in the caller's session.
func (h *AuthHandler) GetGoogleCallback(w http.ResponseWriter, r *http.Request) {
	s := request.SessionFromContext(r)
	if s == nil {
		respondJSONError(w, http.StatusBadRequest, "Sign-in failed", "No sign-in is in progress for this browser")
		return
	}
	s.CallbackHandler().ServeHTTP(w, r)
}
