package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
	"github.com/tonimelisma/clipcloud/internal/providers"
	"github.com/tonimelisma/clipcloud/internal/queue"
	"github.com/tonimelisma/clipcloud/internal/secretstore"
)

// dataDirPermissions keeps credentials and the queue private to the user.
const dataDirPermissions = 0o700

// session bundles the collaborators a command works with: the provider
// registry always, the queue only when openQueue was called.
type session struct {
	cc       *CLIContext
	registry *providers.Registry
	store    *queue.Store
	queue    *queue.Queue
}

// openSession builds the token store and provider registry.
func openSession(cc *CLIContext) (*session, error) {
	if err := os.MkdirAll(cc.Cfg.DataDir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	secrets := secretstore.NewFileStore(config.SecretsDir(cc.Cfg.DataDir), cc.Logger)
	tokens := auth.NewTokenStore(secrets, cc.Logger)

	reg, err := providers.New(providers.Options{
		Config: cc.Cfg,
		Store:  tokens,
		Logger: cc.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &session{cc: cc, registry: reg}, nil
}

// queueAccess selects how a command opens the job database.
type queueAccess int

const (
	// queueReadOnly lists jobs and cursors alongside a running serve.
	queueReadOnly queueAccess = iota
	// queueExclusive owns the database and may change it.
	queueExclusive
)

// openQueue opens the job database and loads the queue.
func (s *session) openQueue(ctx context.Context, access queueAccess) error {
	dbPath := config.QueueDBPath(s.cc.Cfg.DataDir)

	var (
		store *queue.Store
		err   error
	)

	if access == queueExclusive {
		store, err = queue.OpenStore(ctx, dbPath, s.cc.Logger)
	} else {
		store, err = queue.OpenStoreReadOnly(ctx, dbPath, s.cc.Logger)
	}

	if errors.Is(err, queue.ErrLocked) {
		return queueBusyError(s.cc.Cfg.DataDir, err)
	}

	if err != nil {
		return err
	}

	q, err := queue.New(ctx, store, s.registry, s.registry, queue.Options{
		MaxAutoRetries: s.cc.Cfg.Queue.MaxAutoRetries,
		RetryBaseDelay: s.cc.Cfg.RetryBaseDelay(),
		RetryMaxDelay:  s.cc.Cfg.RetryMaxDelay(),
		VerifyUploads:  s.cc.Cfg.Queue.VerifyUploads,
		Logger:         s.cc.Logger,
	})
	if err != nil {
		store.Close()
		return err
	}

	s.store = store
	s.queue = q

	return nil
}

// Close releases the job database, if open.
func (s *session) Close() {
	if s.store == nil {
		return
	}

	if err := s.store.Close(); err != nil {
		s.cc.Logger.Warn("closing job database", "error", err)
	}
}

// openQueueSession is the common prologue of queue commands.
func openQueueSession(ctx context.Context, cc *CLIContext, access queueAccess) (*session, error) {
	s, err := openSession(cc)
	if err != nil {
		return nil, err
	}

	if err := s.openQueue(ctx, access); err != nil {
		return nil, err
	}

	return s, nil
}

// queueBusyError names the process that owns the job database. The result
// still matches queue.ErrLocked.
func queueBusyError(dataDir string, err error) error {
	if pid, alive := runningPID(config.ServePIDPath(dataDir)); alive {
		return fmt.Errorf("%w: 'clipcloud serve' (pid %d) is running; stop it first, "+
			"or drop new clips into the watch folder", err, pid)
	}

	return fmt.Errorf("%w: another clipcloud command is using the queue; try again when it finishes", err)
}
