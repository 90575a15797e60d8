package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/benvon/letmeask/internal/bridge"
	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// restoreWait bounds how long whoami waits for the restored session to reach the bridge
const restoreWait = 5 * time.Second

// ErrNotSignedIn is returned by whoami when no session is stored
var ErrNotSignedIn = errors.New("not signed in")

func newRootCmd(stderr io.Writer) *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "letmeask",
		Short:         "Sign in to letmeask from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	connect := func(cmd *cobra.Command) (*session, error) {
		return openSession(cmd.Context(), debug, identity.ConsoleOpener(stderr))
	}

	root.AddCommand(newLoginCmd(connect))
	root.AddCommand(newWhoamiCmd(connect))
	root.AddCommand(newLogoutCmd(connect))
	return root
}

type sessionFunc func(cmd *cobra.Command) (*session, error)

func newLoginCmd(connect sessionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google",
		Long:  "Prints the Google sign-in URL and waits for the redirect on the configured loopback redirect URI",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			stop, err := serveCallback(s.redirectURI, s.auth.CallbackHandler(), s.logger)
			if err != nil {
				return err
			}
			defer stop()

			user, err := login(cmd.Context(), s.auth, s.bridge)
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), user)
		},
	}
}

func newWhoamiCmd(connect sessionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			user, err := awaitRestored(cmd.Context(), s.auth, s.bridge, restoreWait)
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), user)
		},
	}
}

func newLogoutCmd(connect sessionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			// sign-out is a provider operation; the bridge keeps its last user
			if err := s.auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return err
		},
	}
}

// login runs the bridge sign-in and returns the user it published
func login(ctx context.Context, auth *identity.Auth, b *bridge.Bridge) (*models.User, error) {
	if err := b.SignInWithGoogle(ctx); err != nil {
		return nil, discardMalformed(ctx, auth, err)
	}
	user := b.Value().User
	if user == nil {
		return nil, errors.New("sign-in finished without a user")
	}
	return user, nil
}

// awaitRestored waits for the stored session to be published by the bridge.
// A stored identity the bridge cannot map is cleared and reported as the
// bridge's fatal error.
func awaitRestored(ctx context.Context, auth *identity.Auth, b *bridge.Bridge, wait time.Duration) (*models.User, error) {
	if auth.CurrentUser() == nil {
		return nil, ErrNotSignedIn
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	updates := b.State().Watch(ctx)
	for {
		select {
		case err := <-b.Fatal():
			return nil, discardMalformed(ctx, auth, err)
		case user, ok := <-updates:
			if !ok {
				return nil, fmt.Errorf("session was not restored: %w", context.Cause(ctx))
			}
			if user != nil {
				return user, nil
			}
		}
	}
}

// discardMalformed clears the stored identity when err says the bridge
// rejected it, so later commands do not fail the same way.
func discardMalformed(ctx context.Context, auth *identity.Auth, err error) error {
	if !errors.Is(err, bridge.ErrMissingUserInfo) {
		return err
	}
	if serr := auth.SignOut(context.WithoutCancel(ctx)); serr != nil {
		return errors.Join(err, fmt.Errorf("failed to clear stored session: %w", serr))
	}
	return err
}

// serveCallback listens on the redirect URI's host and serves handler at its path
func serveCallback(redirectURI string, handler http.Handler, logger *zap.Logger) (func(), error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" || !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("redirect URI %s is not a loopback http URI; configure one like http://127.0.0.1:8085/callback", redirectURI)
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("callback_listener_failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func printUser(w io.Writer, u *models.User) error {
	_, err := fmt.Fprintf(w, "Signed in as %s\n  id: %s\n  avatar: %s\n", u.Name, u.ID, u.Avatar)
	return err
}
