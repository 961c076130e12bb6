package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	data_portal "github.com/hexi/data-portal"
	"github.com/hexi/data-portal/internal/credstore"
	"github.com/hexi/data-portal/internal/pubsub"
	"github.com/hexi/data-portal/internal/sync_"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrClosed             = errors.New("session closed")
)

type Config struct {
	// Store persists credentials across runs.
	Store credstore.Store
	// NewClient builds the API client; the session passes itself as the token
	// source so the client always sees the freshest token.
	NewClient func(data_portal.TokenSource) *data_portal.Client
	// RefreshInterval is the cadence of the background token refresh.
	RefreshInterval time.Duration
	TargetDir       string
	// MaxActiveDownloads is the per-batch concurrency ceiling.
	MaxActiveDownloads int
	// RateLimit caps each transfer in bytes/second; 0 means unlimited.
	RateLimit int64
	// ProgressUpdateInterval throttles speed samples and progress events.
	ProgressUpdateInterval time.Duration
	History                Recorder
}

var DefaultConfig = Config{
	RefreshInterval:        30 * time.Minute,
	TargetDir:              ".",
	MaxActiveDownloads:     DefaultConcurrencyLimit,
	ProgressUpdateInterval: 500 * time.Millisecond,
	History:                NilRecorder{},
}

type batchesByID map[string]*Batch

// A Session owns the authenticated state: the current credentials, the
// background token refresh, and the download batches started under it.
// It implements data_portal.TokenSource.
type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	client  *data_portal.Client
	creds   *sync_.RWMutexed[credstore.Credentials]
	batches *sync_.RWMutexed[batchesByID]
	events  pubsub.Publisher[AuthEvent]

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
}

// New builds a Session from config, loading any persisted credentials; when
// present the background refresh starts immediately.
func New(ctx context.Context, config Config) (*Session, error) {
	if config.Store == nil {
		return nil, errors.New("session requires a credential store")
	}
	if config.NewClient == nil {
		return nil, errors.New("session requires a client factory")
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultConfig.RefreshInterval
	}
	if config.TargetDir == "" {
		config.TargetDir = DefaultConfig.TargetDir
	}
	if config.MaxActiveDownloads <= 0 {
		config.MaxActiveDownloads = DefaultConfig.MaxActiveDownloads
	}
	if config.ProgressUpdateInterval <= 0 {
		config.ProgressUpdateInterval = DefaultConfig.ProgressUpdateInterval
	}
	if config.History == nil {
		config.History = DefaultConfig.History
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       zap.S().Named("session"),
		creds:     sync_.NewRWMutexed(credstore.Credentials{}),
		batches:   sync_.NewRWMutexed(make(batchesByID)),
		events:    pubsub.NewPublisher[AuthEvent](),
	}
	s.client = config.NewClient(data_portal.TokenSourceFunc(s.Token))
	creds, ok, err := config.Store.Load()
	if err != nil {
		cancel()
		return nil, err
	}
	if ok {
		s.creds.Set(creds)
		s.startRefreshTask()
	}
	return s, nil
}

// Client returns the API client bound to this session's token.
func (s *Session) Client() *data_portal.Client {
	return s.client
}

// Token implements data_portal.TokenSource; empty when logged out.
func (s *Session) Token() string {
	return s.creds.Get().Token
}

func (s *Session) IsAdmin() bool {
	return s.creds.Get().IsAdmin
}

func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// Subscribe to login/logout/refresh events.
func (s *Session) Subscribe() (pubsub.ReceiverCloser[AuthEvent], error) {
	return s.events.Subscribe()
}

// Login authenticates and persists the credentials. Empty fields are rejected
// locally, nothing is sent. On failure no credential state changes.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrMissingCredentials
	}
	result, err := s.client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	creds := credstore.Credentials{Token: result.AccessToken, IsAdmin: result.IsAdmin}
	if err := s.config.Store.Save(creds); err != nil {
		return err
	}
	s.creds.Set(creds)
	s.startRefreshTask()
	s.log.Infow("logged in", "username", username, "admin", result.IsAdmin)
	s.events.Send(LoggedIn{Username: username, IsAdmin: result.IsAdmin})
	return nil
}

// Logout discards the credentials and stops the refresh task. Purely local,
// never needs the network, and works even when the token already expired.
func (s *Session) Logout() {
	s.logout(false)
}

func (s *Session) logout(forced bool) {
	s.stopRefreshTask()
	if err := s.config.Store.Clear(); err != nil {
		s.log.Warnw("failed to clear stored credentials", "error", err)
	}
	s.creds.Set(credstore.Credentials{})
	s.events.Send(LoggedOut{Forced: forced})
}

// Refresh exchanges the current token for a fresh one. Admin status is
// unchanged by a refresh.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.LoggedIn() {
		return ErrNotLoggedIn
	}
	token, err := s.client.Refresh(ctx)
	if err != nil {
		return err
	}
	creds := s.creds.Get()
	creds.Token = token
	if err := s.config.Store.Save(creds); err != nil {
		return err
	}
	s.creds.Set(creds)
	s.events.Send(TokenRefreshed{})
	return nil
}

// AddBatch registers a batch for the given files under this session's limits
// without starting it, leaving the caller a window to Subscribe before the
// first event. A single download is just a batch of one.
func (s *Session) AddBatch(specs []ItemSpec) (*Batch, error) {
	if !s.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	b, err := NewBatch(s.ctx, BatchConfig{
		Fetcher:                s.client,
		TargetDir:              s.config.TargetDir,
		Limit:                  s.config.MaxActiveDownloads,
		RateLimit:              s.config.RateLimit,
		ProgressUpdateInterval: s.config.ProgressUpdateInterval,
		History:                s.config.History,
	}, specs)
	if err != nil {
		return nil, err
	}
	err = s.batches.Locked(func(batches batchesByID) error {
		if batches == nil {
			return ErrClosed
		}
		batches[b.ID()] = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debugw("batch added", "batch_id", b.ID(), "items", len(specs))
	return b, nil
}

// StartBatch is AddBatch plus an immediate Start, with at most
// MaxActiveDownloads items active at a time in queue order.
func (s *Session) StartBatch(specs []ItemSpec) (*Batch, error) {
	b, err := s.AddBatch(specs)
	if err != nil {
		return nil, err
	}
	b.Start()
	return b, nil
}

// GetBatch looks up a running or finished batch by ID.
func (s *Session) GetBatch(id string) (b *Batch, ok bool) {
	_ = s.batches.RLocked(func(batches batchesByID) error {
		b, ok = batches[id]
		return nil
	})
	return b, ok
}

// ListBatches returns all batches started under this session.
func (s *Session) ListBatches() []*Batch {
	var out []*Batch
	_ = s.batches.RLocked(func(batches batchesByID) error {
		for _, b := range batches {
			out = append(out, b)
		}
		return nil
	})
	return out
}

// Close cancels every batch, waits for them to settle, and stops background
// work. Credentials stay persisted so the next run resumes logged in.
func (s *Session) Close() {
	s.stopRefreshTask()
	s.ctxCancel()
	batches := s.batches.Swap(nil)
	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func(b *Batch) {
			defer wg.Done()
			b.Cancel()
			// A never-started batch still needs its coordinator to run once
			// so Done resolves.
			b.Start()
			<-b.Done()
		}(b)
	}
	wg.Wait()
	s.events.Close()
}

// startRefreshTask (re)starts the periodic token refresh. A refresh failure
// other than cancellation forces a logout, the stored token is no longer
// trusted at that point.
func (s *Session) startRefreshTask() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.refreshCancel = cancel
	go func() {
		ticker := time.NewTicker(s.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.log.Warnw("token refresh failed, logging out", "error", err)
					s.logout(true)
					return
				}
				s.log.Debug("token refreshed")
			}
		}
	}()
}

func (s *Session) stopRefreshTask() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshCancel != nil {
		s.refreshCancel()
		s.refreshCancel = nil
	}
}
