package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/clipcloud/internal/pkce"
)

// MinClientIDLength is the shortest client id accepted. Every provider issues
// ids far longer than this; anything shorter is a typo or a stub value.
const MinClientIDLength = 10

// placeholderClientIDs are values copied from sample configs.
var placeholderClientIDs = map[string]bool{
	"client_id":        true,
	"clientid":         true,
	"your_client_id":   true,
	"your-client-id":   true,
	"yourclientid":     true,
	"<client_id>":      true,
	"<your_client_id>": true,
	"changeme":         true,
	"change_me":        true,
	"replace_me":       true,
	"replace-me":       true,
	"placeholder":      true,
	"todo":             true,
	"xxxxxxxxxx":       true,
}

// FlowState is a step of the authorization state machine.
type FlowState int

// Flow states. Persisted, Failed and Cancelled are terminal.
const (
	StateIdle FlowState = iota
	StateBuildingRequest
	StateAwaitingRedirect
	StateExchangingCode
	StateFetchingAccount
	StatePersisted
	StateFailed
	StateCancelled
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingRequest:
		return "building_request"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateFetchingAccount:
		return "fetching_account"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can follow s.
func (s FlowState) Terminal() bool {
	return s == StatePersisted || s == StateFailed || s == StateCancelled
}

// LaunchResult is what the browser launcher hands back: either the full
// redirect URL the provider sent the user to, or Cancelled.
type LaunchResult struct {
	RedirectURL string
	Cancelled   bool
}

// Launcher presents the authorization URL to the user and waits for the
// provider to redirect back to redirectURI.
type Launcher interface {
	Open(ctx context.Context, authURL, redirectURI string) (LaunchResult, error)
}

// RedirectResolver supplies the redirect URI registered for a provider.
type RedirectResolver interface {
	RedirectURI(ctx context.Context, p Provider) (string, error)
}

// StaticRedirect resolves every provider to the same URI.
type StaticRedirect string

// RedirectURI returns r.
func (r StaticRedirect) RedirectURI(context.Context, Provider) (string, error) {
	return string(r), nil
}

// FlowConfig is the caller-supplied app registration.
type FlowConfig struct {
	ClientID     string
	ClientSecret string // optional; Google desktop clients carry one
}

// Session is the transient state of one authorization attempt.
type Session struct {
	Provider    Provider
	Verifier    string
	Challenge   string
	State       string
	RedirectURI string
	Current     FlowState
}

// Flow runs the authorization-code + PKCE flow for one provider. Callers
// should allow at most one active flow at a time; Flow does not enforce it.
type Flow struct {
	desc       Descriptor
	launcher   Launcher
	resolver   RedirectResolver
	store      *TokenStore
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	observer func(Provider, FlowState)
}

// NewFlow creates a flow for desc.
func NewFlow(
	desc Descriptor, launcher Launcher, resolver RedirectResolver,
	store *TokenStore, httpClient *http.Client, logger *slog.Logger,
) *Flow {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Flow{
		desc:       desc,
		launcher:   launcher,
		resolver:   resolver,
		store:      store,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SetObserver registers fn to be called on every state transition.
func (f *Flow) SetObserver(fn func(Provider, FlowState)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.observer = fn
}

func (f *Flow) transition(sess *Session, next FlowState) {
	f.logger.Debug("auth flow transition",
		slog.String("provider", string(sess.Provider)),
		slog.String("from", sess.Current.String()),
		slog.String("to", next.String()),
	)

	sess.Current = next

	f.mu.Lock()
	fn := f.observer
	f.mu.Unlock()

	if fn != nil {
		fn(sess.Provider, next)
	}
}

// Start runs the flow to completion and returns the persisted credential.
// Nothing is written to the token store unless every step succeeds.
func (f *Flow) Start(ctx context.Context, cfg FlowConfig) (cred *Credential, err error) {
	p := f.desc.Provider
	sess := &Session{Provider: p, Current: StateIdle}

	defer func() {
		if err == nil {
			return
		}

		if errors.Is(err, ErrCancelled) {
			f.transition(sess, StateCancelled)
			f.logger.Info("authorization cancelled", slog.String("provider", string(p)))

			return
		}

		f.transition(sess, StateFailed)
		f.logger.Warn("authorization failed",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)
	}()

	f.transition(sess, StateBuildingRequest)

	oc, authURL, err := f.buildRequest(ctx, sess, cfg)
	if err != nil {
		return nil, err
	}

	f.transition(sess, StateAwaitingRedirect)

	res, err := f.launcher.Open(ctx, authURL, sess.RedirectURI)
	if err != nil {
		kind := ErrNetwork
		if ctx.Err() != nil {
			kind = ErrCancelled
		}

		return nil, &Error{Kind: kind, Provider: p, Description: "browser sign-in failed", Err: err}
	}

	if res.Cancelled {
		return nil, &Error{Kind: ErrCancelled, Provider: p, Description: "the sign-in window was dismissed"}
	}

	code, err := parseRedirect(p, res.RedirectURL, sess.State)
	if err != nil {
		return nil, err
	}

	f.transition(sess, StateExchangingCode)

	tok, err := oc.Exchange(f.oauthContext(ctx), code, oauth2.VerifierOption(sess.Verifier))
	if err != nil {
		return nil, classifyTokenError(p, f.desc.TokenURL, err)
	}

	if tok.AccessToken == "" {
		return nil, &Error{Kind: ErrProtocol, Provider: p, Endpoint: f.desc.TokenURL, Description: "token response has no access_token"}
	}

	f.transition(sess, StateFetchingAccount)

	cred = credentialFromToken(p, tok, f.desc.Scopes)
	f.fetchAccount(ctx, cred)

	if err := f.store.Set(cred); err != nil {
		return nil, err
	}

	f.transition(sess, StatePersisted)
	f.logger.Info("authorization complete",
		slog.String("provider", string(p)),
		slog.String("account", cred.AccountEmail),
		slog.Bool("has_refresh_token", cred.RefreshToken != ""),
	)

	return cred, nil
}

// buildRequest validates the client id, generates PKCE and state, resolves
// the redirect URI and renders the authorization URL.
func (f *Flow) buildRequest(ctx context.Context, sess *Session, cfg FlowConfig) (*oauth2.Config, string, error) {
	p := f.desc.Provider

	if err := ValidateClientID(p, cfg.ClientID); err != nil {
		return nil, "", err
	}

	pair := pkce.Generate()
	sess.Verifier = pair.Verifier
	sess.Challenge = pair.Challenge

	state, err := pkce.NewState()
	if err != nil {
		return nil, "", fmt.Errorf("auth: generating state: %w", err)
	}

	sess.State = state

	redirectURI, err := f.resolver.RedirectURI(ctx, p)
	if err != nil {
		return nil, "", &Error{Kind: ErrConfiguration, Provider: p, Description: "resolving redirect URI", Err: err}
	}

	if err := validateRedirectURI(p, redirectURI); err != nil {
		return nil, "", err
	}

	sess.RedirectURI = redirectURI

	oc := f.desc.oauthConfig(strings.TrimSpace(cfg.ClientID), cfg.ClientSecret, redirectURI)

	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(pair.Verifier)}, f.desc.authParamOptions()...)

	return oc, oc.AuthCodeURL(state, opts...), nil
}

// fetchAccount fills the account fields. Failure leaves them empty: the token
// exchange already proved the credential works.
func (f *Flow) fetchAccount(ctx context.Context, cred *Credential) {
	if f.desc.Account == nil {
		return
	}

	acct, err := f.desc.Account.FetchAccount(ctx, cred.AccessToken)
	if err != nil {
		f.logger.Warn("could not fetch account info",
			slog.String("provider", string(cred.Provider)),
			slog.String("error", err.Error()),
		)

		return
	}

	if acct != nil {
		cred.AccountEmail = acct.Email
		cred.AccountName = acct.Name
	}
}

func (f *Flow) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// ValidateClientID rejects client ids that cannot possibly work, before any
// browser surface is opened.
func ValidateClientID(p Provider, id string) error {
	hint := fmt.Sprintf("register an app with %s and set [providers.%s] client_id in config.toml", p.DisplayName(), p)

	switch {
	case id == "":
		return &Error{Kind: ErrConfiguration, Provider: p, Description: "client id is empty; " + hint}
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		return &Error{Kind: ErrConfiguration, Provider: p, Description: "client id contains whitespace; " + hint}
	case placeholderClientIDs[strings.ToLower(id)] || strings.HasPrefix(strings.ToLower(id), "your_"):
		return &Error{Kind: ErrConfiguration, Provider: p, Description: fmt.Sprintf("client id %q is a placeholder; %s", id, hint)}
	case len(id) < MinClientIDLength:
		return &Error{
			Kind:        ErrConfiguration,
			Provider:    p,
			Description: fmt.Sprintf("client id is %d characters, expected at least %d; %s", len(id), MinClientIDLength, hint),
		}
	}

	return nil
}

func validateRedirectURI(p Provider, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Host == "" && u.Opaque == "" && u.Path == "") {
		return &Error{Kind: ErrConfiguration, Provider: p, Description: fmt.Sprintf("redirect URI %q is not an absolute URL", raw), Err: err}
	}

	return nil
}

// parseRedirect validates the redirect in a fixed order: state first, then
// the provider error parameter, then the presence of a code.
func parseRedirect(p Provider, rawURL, wantState string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &Error{Kind: ErrProtocol, Provider: p, Description: "redirect URL does not parse", Err: err}
	}

	q := u.Query()

	got := q.Get("state")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(wantState)) != 1 {
		return "", &Error{Kind: ErrSecurity, Provider: p, Description: "state mismatch"}
	}

	if code := q.Get("error"); code != "" {
		return "", authorizationError(p, code, q.Get("error_description"))
	}

	code := q.Get("code")
	if code == "" {
		return "", &Error{Kind: ErrProtocol, Provider: p, Description: "redirect has no authorization code"}
	}

	return code, nil
}
