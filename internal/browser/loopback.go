// Package browser hands authorization URLs to the system browser and captures
// the provider's redirect on a loopback HTTP listener.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

const (
	shutdownTimeout = 5 * time.Second
	callbackPath    = "/callback"
)

// Loopback is both the redirect URI resolver and the launcher for native-app
// OAuth: RedirectURI binds a listener on 127.0.0.1 and Open serves it until
// the provider redirects back.
type Loopback struct {
	port    int
	openURL func(string) error
	out     io.Writer
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewLoopback creates a loopback launcher. Port 0 picks a free port;
// providers that require an exact registered redirect need a fixed port.
// openURL defaults to the platform browser opener.
func NewLoopback(port int, openURL func(string) error, logger *slog.Logger) *Loopback {
	if openURL == nil {
		openURL = OpenURL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Loopback{port: port, openURL: openURL, out: os.Stderr, logger: logger}
}

// RedirectURI binds the callback listener and returns its URL. Microsoft
// matches "http://localhost" registrations on host only, so OneDrive gets a
// bare host redirect; the others get /callback on the loopback IP.
func (l *Loopback) RedirectURI(ctx context.Context, p auth.Provider) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		l.listener.Close()
		l.listener = nil
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(l.port)))
	if err != nil {
		return "", fmt.Errorf("browser: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return "", errors.New("browser: listener address is not TCP")
	}

	l.listener = listener
	l.logger.Debug("callback listener bound", slog.Int("port", tcpAddr.Port))

	if p == auth.OneDrive {
		return fmt.Sprintf("http://localhost:%d", tcpAddr.Port), nil
	}

	return fmt.Sprintf("http://127.0.0.1:%d%s", tcpAddr.Port, callbackPath), nil
}

// Open shows authURL in the browser and blocks until the redirect arrives.
// Cancelling ctx (Ctrl-C) resolves as a user cancellation.
func (l *Loopback) Open(ctx context.Context, authURL, redirectURI string) (auth.LaunchResult, error) {
	l.mu.Lock()
	listener := l.listener
	l.listener = nil
	l.mu.Unlock()

	if listener == nil {
		return auth.LaunchResult{}, errors.New("browser: no callback listener; resolve the redirect URI first")
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Handler:           callbackHandler(redirectURI, resultCh),
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("browser: callback server error: %w", serveErr)
		}
	}()

	defer l.shutdown(srv)

	l.logger.Info("opening browser for authorization")

	if err := l.openURL(authURL); err != nil {
		l.logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
		fmt.Fprintf(l.out, "Open this URL in your browser:\n%s\n", authURL)
	}

	select {
	case redirect := <-resultCh:
		return auth.LaunchResult{RedirectURL: redirect}, nil
	case err := <-errCh:
		return auth.LaunchResult{}, err
	case <-ctx.Done():
		return auth.LaunchResult{Cancelled: true}, nil
	}
}

func (l *Loopback) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// callbackHandler forwards the first redirect it sees. The auth flow validates
// state, error and code; the handler only renders a page for the user.
func callbackHandler(redirectURI string, resultCh chan<- string) http.Handler {
	var once sync.Once

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if !q.Has("state") && !q.Has("code") && !q.Has("error") {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if q.Get("code") != "" && q.Get("error") == "" {
			fmt.Fprint(w, "<html><body><h1>Account connected</h1>"+
				"<p>You can close this window and return to the terminal.</p></body></html>")
		} else {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body><h1>Authorization did not complete</h1>"+
				"<p>Return to the terminal for details.</p></body></html>")
		}

		once.Do(func() {
			resultCh <- redirectBase(redirectURI) + r.URL.RequestURI()
		})
	})
}

// redirectBase strips the path from the registered redirect so the request URI
// can be appended.
func redirectBase(redirectURI string) string {
	for i := len("http://"); i < len(redirectURI); i++ {
		if redirectURI[i] == '/' {
			return redirectURI[:i]
		}
	}

	return redirectURI
}
