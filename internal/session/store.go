// Package session owns the signed-in identity for the lifetime of the process.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"relief-cli/internal/model"

	"github.com/apex/log"
)

// Durable keys for the persisted credential and role.
const (
	KeyToken = "token"
	KeyRole  = "role"
)

// Status is the restoration state. It starts Pending and settles to Restored
// or Absent; it never returns to Pending.
type Status int

const (
	Pending Status = iota
	Restored
	Absent
)

func (s Status) String() string {
	switch s {
	case Restored:
		return "restored"
	case Absent:
		return "absent"
	default:
		return "pending"
	}
}

// Persister is durable client-side key/value storage.
type Persister interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// HeaderSetter installs the default bearer credential on outgoing requests.
type HeaderSetter interface {
	SetBearer(credential string)
	ClearBearer()
}

type Authenticator interface {
	Token(ctx context.Context, username, password string) (model.TokenResponse, error)
}

type Store struct {
	persister Persister
	headers   HeaderSetter
	logger    log.Interface

	// commit serializes persister writes with the publish that follows them,
	// so disk and memory always agree on the last writer.
	commit sync.Mutex

	mu      sync.Mutex
	current *model.Session
	status  Status
	settled chan struct{}
	subs    map[chan Status]struct{}
}

type Option func(*Store)

func WithLogger(l log.Interface) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(p Persister, h HeaderSetter, opts ...Option) *Store {
	if p == nil {
		p = NewMemoryPersister()
	}
	s := &Store{
		persister: p,
		headers:   h,
		logger:    log.Log,
		status:    Pending,
		settled:   make(chan struct{}),
		subs:      map[chan Status]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Current returns the active session, if any.
func (s *Store) Current() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Session{}, false
	}
	return *s.current, true
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Wait blocks until restoration has settled or ctx ends. On ctx expiry it
// returns Pending together with ctx's error.
func (s *Store) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.settled:
		return s.Status(), nil
	case <-ctx.Done():
		select {
		case <-s.settled:
			return s.Status(), nil
		default:
		}
		return Pending, ctx.Err()
	}
}

// Subscribe delivers every subsequent status change until cancel is called.
// A subscriber that falls behind misses intermediate values; Status is
// always authoritative.
func (s *Store) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (s *Store) publish(sess *model.Session) {
	s.current = sess
	next := Absent
	if sess != nil {
		next = Restored
	}
	if s.status == Pending {
		close(s.settled)
	}
	s.status = next
	for ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}
}

// Login decodes raw, persists it and makes it the active session. A
// malformed credential leaves every piece of state unchanged.
func (s *Store) Login(ctx context.Context, raw string) (model.Session, error) {
	sess, err := Decode(raw)
	if err != nil {
		return model.Session{}, err
	}
	s.commit.Lock()
	defer s.commit.Unlock()
	if err := s.persister.Set(ctx, KeyToken, sess.Credential); err != nil {
		return model.Session{}, err
	}
	if err := s.persister.Set(ctx, KeyRole, string(sess.Role)); err != nil {
		return model.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers != nil {
		s.headers.SetBearer(sess.Credential)
	}
	s.publish(&sess)
	s.logger.WithFields(log.Fields{"subject": sess.Subject, "role": sess.Role}).Info("signed in")
	return sess, nil
}

// SignIn exchanges username and password for a credential and logs in with it.
func (s *Store) SignIn(ctx context.Context, auth Authenticator, username, password string) (model.Session, error) {
	tok, err := auth.Token(ctx, username, password)
	if err != nil {
		return model.Session{}, err
	}
	return s.Login(ctx, tok.AccessToken)
}

// Restore loads the persisted credential at startup. A missing role key is
// re-derived from the credential; an undecodable credential is cleared. The
// status always settles, even on error.
func (s *Store) Restore(ctx context.Context) (*model.Session, error) {
	s.commit.Lock()
	defer s.commit.Unlock()
	sess, err := s.restore(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess != nil && s.headers != nil {
		s.headers.SetBearer(sess.Credential)
	}
	s.publish(sess)
	if sess == nil {
		return nil, err
	}
	out := *sess
	return &out, err
}

func (s *Store) restore(ctx context.Context) (*model.Session, error) {
	tok, ok, err := s.persister.Get(ctx, KeyToken)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(tok) == "" {
		return nil, nil
	}
	sess, err := Decode(tok)
	if err != nil {
		s.logger.WithError(err).Warn("discarding persisted credential")
		if derr := s.persister.Delete(ctx, KeyToken, KeyRole); derr != nil {
			return nil, errors.Join(err, derr)
		}
		return nil, nil
	}
	role, ok, err := s.persister.Get(ctx, KeyRole)
	if err != nil {
		return nil, err
	}
	if !ok || model.Role(role) != sess.Role {
		if err := s.persister.Set(ctx, KeyRole, string(sess.Role)); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// Logout clears the session in memory and on disk.
func (s *Store) Logout(ctx context.Context) error {
	s.commit.Lock()
	defer s.commit.Unlock()
	err := s.persister.Delete(ctx, KeyToken, KeyRole)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers != nil {
		s.headers.ClearBearer()
	}
	s.publish(nil)
	s.logger.Info("signed out")
	return err
}

// MemoryPersister keeps values in process memory.
type MemoryPersister struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{vals: map[string]string{}}
}

func (m *MemoryPersister) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *MemoryPersister) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.vals[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.vals, k)
	}
	m.mu.Unlock()
	return nil
}
