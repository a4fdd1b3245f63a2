// Package providers assembles everything that differs per storage provider
// (OAuth descriptor, storage adapter, refresher registration) from the
// resolved configuration, so commands and the queue look providers up by id.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
	"github.com/tonimelisma/clipcloud/internal/dropbox"
	"github.com/tonimelisma/clipcloud/internal/gdrive"
	"github.com/tonimelisma/clipcloud/internal/graph"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// DefaultUserAgent is sent when [network] user_agent is unset.
const DefaultUserAgent = "clipcloud/dev"

// Endpoints overrides provider base URLs. Empty fields select production.
type Endpoints struct {
	GraphURL          string
	DriveURL          string
	DropboxAPIURL     string
	DropboxContentURL string

	// OAuth replaces the authorize and token endpoints per provider.
	OAuth map[auth.Provider]OAuthEndpoints
}

// OAuthEndpoints is an authorize/token endpoint pair.
type OAuthEndpoints struct {
	AuthURL  string
	TokenURL string
}

// Options configures New.
type Options struct {
	Config    *config.Resolved
	Store     *auth.TokenStore
	Endpoints Endpoints
	Logger    *slog.Logger

	// MetaHTTP is used for token and metadata calls, TransferHTTP for
	// uploads. Nil selects clients built from [network].
	MetaHTTP     *http.Client
	TransferHTTP *http.Client
}

// Registry holds one adapter and one descriptor per provider, all sharing a
// single Refresher so concurrent refreshes stay single-flight.
type Registry struct {
	cfg       *config.Resolved
	store     *auth.TokenStore
	refresher *auth.Refresher
	metaHTTP  *http.Client
	logger    *slog.Logger

	descriptors map[auth.Provider]auth.Descriptor
	adapters    map[auth.Provider]storage.Adapter
}

// accountClient is the "who am I" half of every provider client.
type accountClient interface {
	FetchAccount(ctx context.Context, accessToken string) (*auth.Account, error)
}

// New builds the registry. The bandwidth limiter from [queue] is shared by
// every adapter's file accessor.
func New(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Config

	metaHTTP := opts.MetaHTTP
	if metaHTTP == nil {
		metaHTTP = MetaHTTPClient(cfg.Config)
	}

	transferHTTP := opts.TransferHTTP
	if transferHTTP == nil {
		transferHTTP = TransferHTTPClient(cfg.Config)
	}

	limiter, err := storage.NewBandwidthLimiter(cfg.Queue.BandwidthLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	files := storage.NewFiles(limiter)
	refresher := auth.NewRefresher(opts.Store, metaHTTP, cfg.RefreshMargin(), logger)

	userAgent := cfg.Network.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	r := &Registry{
		cfg:         cfg,
		store:       opts.Store,
		refresher:   refresher,
		metaHTTP:    metaHTTP,
		logger:      logger,
		descriptors: make(map[auth.Provider]auth.Descriptor, len(auth.AllProviders)),
		adapters:    make(map[auth.Provider]storage.Adapter, len(auth.AllProviders)),
	}

	ep := opts.Endpoints

	gd := gdrive.NewAdapter(refresher, gdrive.Options{
		Endpoint:    ep.DriveURL,
		HTTPClient:  transferHTTP,
		UserAgent:   userAgent,
		Files:       files,
		UploadLimit: cfg.UploadLimit(auth.GoogleDrive),
		Logger:      logger,
	})
	r.add(gd, gd.Client(), ep)

	od := graph.NewAdapter(refresher, graph.Options{
		BaseURL:     ep.GraphURL,
		HTTPClient:  transferHTTP,
		UserAgent:   userAgent,
		Files:       files,
		UploadLimit: cfg.UploadLimit(auth.OneDrive),
		Logger:      logger,
	})
	r.add(od, od.Client(), ep)

	db := dropbox.NewAdapter(refresher, dropbox.Options{
		APIURL:      ep.DropboxAPIURL,
		ContentURL:  ep.DropboxContentURL,
		HTTPClient:  transferHTTP,
		UserAgent:   userAgent,
		Files:       files,
		UploadLimit: cfg.UploadLimit(auth.Dropbox),
		Logger:      logger,
	})
	r.add(db, db.Client(), ep)

	return r, nil
}

func (r *Registry) add(a storage.Adapter, acct accountClient, ep Endpoints) {
	p := a.Provider()

	desc, _ := auth.DescriptorFor(p)
	desc = desc.WithAccount(acct)

	if o, ok := ep.OAuth[p]; ok {
		desc = desc.WithEndpoints(o.AuthURL, o.TokenURL)
	}

	r.descriptors[p] = desc
	r.adapters[p] = a
	r.refresher.Register(desc, r.cfg.ClientConfig(p))

	r.logger.Debug("provider registered",
		slog.String("provider", p.String()),
		slog.Bool("client_id_set", r.cfg.ClientConfig(p).ClientID != ""),
	)
}

// Adapter returns the storage adapter for p.
func (r *Registry) Adapter(p auth.Provider) (storage.Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("providers: %w: %q", auth.ErrUnknownProvider, p)
	}

	return a, nil
}

// Adapters returns every registered adapter keyed by provider.
func (r *Registry) Adapters() map[auth.Provider]storage.Adapter {
	out := make(map[auth.Provider]storage.Adapter, len(r.adapters))
	for p, a := range r.adapters {
		out[p] = a
	}

	return out
}

// Descriptor returns the OAuth descriptor for p.
func (r *Registry) Descriptor(p auth.Provider) (auth.Descriptor, bool) {
	d, ok := r.descriptors[p]
	return d, ok
}

// Refresher returns the shared token refresher.
func (r *Registry) Refresher() *auth.Refresher {
	return r.refresher
}

// Store returns the token store.
func (r *Registry) Store() *auth.TokenStore {
	return r.store
}

// ClientConfig returns the app registration for p.
func (r *Registry) ClientConfig(p auth.Provider) auth.FlowConfig {
	return r.cfg.ClientConfig(p)
}

// FolderTemplate returns the configured upload folder template for p.
func (r *Registry) FolderTemplate(p auth.Provider) string {
	return r.cfg.Provider(p).FolderTemplate
}

// Flow builds an authorization flow for p.
func (r *Registry) Flow(p auth.Provider, launcher auth.Launcher, resolver auth.RedirectResolver) (*auth.Flow, error) {
	desc, ok := r.descriptors[p]
	if !ok {
		return nil, fmt.Errorf("providers: %w: %q", auth.ErrUnknownProvider, p)
	}

	return auth.NewFlow(desc, launcher, resolver, r.store, r.metaHTTP, r.logger), nil
}

// Credential returns a credential for p that is fresh enough to use.
func (r *Registry) Credential(ctx context.Context, p auth.Provider) (*auth.Credential, error) {
	return r.refresher.EnsureFresh(ctx, p)
}

// MetaHTTPClient returns the client for token and metadata requests: bounded
// connect time and an overall request timeout of [network] data_timeout.
func MetaHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.DataTimeout(),
		Transport: transport(cfg),
	}
}

// TransferHTTPClient returns the client for uploads. It has no overall
// timeout, since a large upload on a slow link legitimately takes minutes;
// the response header timeout still catches a stalled server.
func TransferHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Transport: transport(cfg)}
}

func transport(cfg *config.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = cfg.ConnectTimeout()
	t.ResponseHeaderTimeout = cfg.DataTimeout()

	return t
}
