package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry a token is refreshed ahead of use.
const DefaultRefreshMargin = 60 * time.Second

type registration struct {
	desc Descriptor
	cfg  FlowConfig
}

// Refresher keeps access tokens fresh. At most one refresh exchange per
// provider is in flight; concurrent callers share its outcome.
type Refresher struct {
	store      *TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	margin     time.Duration
	nowFunc    func() time.Time

	mu   sync.RWMutex
	regs map[Provider]registration

	group singleflight.Group
}

// NewRefresher creates a Refresher. A zero margin selects DefaultRefreshMargin.
func NewRefresher(store *TokenStore, httpClient *http.Client, margin time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	return &Refresher{
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		margin:     margin,
		nowFunc:    time.Now,
		regs:       make(map[Provider]registration),
	}
}

// Register makes a provider refreshable with the given app registration.
func (r *Refresher) Register(desc Descriptor, cfg FlowConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.regs[desc.Provider] = registration{desc: desc, cfg: cfg}
}

func (r *Refresher) registration(p Provider) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.regs[p]

	return reg, ok
}

// Store returns the token store the refresher writes to.
func (r *Refresher) Store() *TokenStore {
	return r.store
}

// Current returns the stored credential without refreshing it.
func (r *Refresher) Current(p Provider) (*Credential, error) {
	cred, err := r.store.Get(p)
	if err != nil {
		return nil, &Error{Kind: ErrNotConnected, Provider: p, Err: err}
	}

	if cred == nil {
		return nil, &Error{Kind: ErrNotConnected, Provider: p}
	}

	return cred, nil
}

// EnsureFresh returns the stored credential, refreshing it first if it
// expires within the safety margin. On refresh failure it returns the stale
// credential together with the error; the stored entry is left untouched.
// A caller whose ctx ends first gets the stored credential and ctx.Err()
// while the refresh completes in the background.
func (r *Refresher) EnsureFresh(ctx context.Context, p Provider) (*Credential, error) {
	cred, err := r.Current(p)
	if err != nil {
		return nil, err
	}

	if !cred.NeedsRefresh(r.nowFunc(), r.margin) {
		return cred, nil
	}

	return r.do(ctx, p, "", false)
}

// Refresh forces a refresh after the provider rejected rejectedToken. If the
// stored token already differs, another caller refreshed in the meantime and
// the stored credential is returned without a network exchange.
func (r *Refresher) Refresh(ctx context.Context, p Provider, rejectedToken string) (*Credential, error) {
	return r.do(ctx, p, rejectedToken, true)
}

type flightResult struct {
	cred *Credential
	err  error
}

func (r *Refresher) do(ctx context.Context, p Provider, rejected string, force bool) (*Credential, error) {
	// The flight outlives a cancelled leader so that waiters still get a result.
	flightCtx := context.WithoutCancel(ctx)

	ch := r.group.DoChan(string(p), func() (any, error) {
		return r.flight(flightCtx, p, rejected, force), nil
	})

	select {
	case <-ctx.Done():
		// The flight carries on without us; hand back what is stored now,
		// like any other failed refresh.
		cur, err := r.Current(p)
		if err != nil {
			return nil, errors.Join(ctx.Err(), err)
		}

		return cur, ctx.Err()
	case res := <-ch:
		fr := res.Val.(flightResult)
		return fr.cred.Clone(), fr.err
	}
}

// flight runs inside the single-flight group. It re-reads the store because a
// previous flight may have completed between the caller's check and now.
func (r *Refresher) flight(ctx context.Context, p Provider, rejected string, force bool) flightResult {
	cur, err := r.Current(p)
	if err != nil {
		return flightResult{err: err}
	}

	if force {
		if rejected != "" && cur.AccessToken != rejected {
			return flightResult{cred: cur}
		}
	} else if !cur.NeedsRefresh(r.nowFunc(), r.margin) {
		return flightResult{cred: cur}
	}

	if !cur.CanRefresh() {
		return flightResult{cred: cur, err: &Error{
			Kind:        ErrAuthenticationExpired,
			Provider:    p,
			Description: "no refresh token stored; reconnect the account",
		}}
	}

	reg, ok := r.registration(p)
	if !ok {
		return flightResult{cred: cur, err: &Error{
			Kind:        ErrConfiguration,
			Provider:    p,
			Description: "no client registration for token refresh",
		}}
	}

	oc := reg.desc.oauthConfig(reg.cfg.ClientID, reg.cfg.ClientSecret, "")
	octx := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	r.logger.Debug("refreshing access token",
		slog.String("provider", string(p)),
		slog.String("access_token", TokenPrefix(cur.AccessToken)),
		slog.Bool("forced", force),
	)

	tok, err := oc.TokenSource(octx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		cerr := classifyTokenError(p, reg.desc.TokenURL, err)
		r.logger.Warn("token refresh failed",
			slog.String("provider", string(p)),
			slog.String("error", cerr.Error()),
		)

		return flightResult{cred: cur, err: cerr}
	}

	if tok.AccessToken == "" {
		return flightResult{cred: cur, err: &Error{
			Kind:        ErrProtocol,
			Provider:    p,
			Endpoint:    reg.desc.TokenURL,
			Description: "refresh response has no access_token",
		}}
	}

	next := mergeRefreshed(cur, tok)

	if err := r.store.Set(next); err != nil {
		// The new token works even though it could not be saved.
		return flightResult{cred: next, err: fmt.Errorf("auth: persisting refreshed credential: %w", err)}
	}

	r.logger.Info("access token refreshed",
		slog.String("provider", string(p)),
		slog.Time("expires_at", next.ExpiresAt),
	)

	return flightResult{cred: next}
}
