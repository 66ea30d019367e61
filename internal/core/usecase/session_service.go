package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
	"github.com/atvirokodosprendimai/formsum/internal/core/ports"
)

var (
	ErrSubmissionUnavailable = errors.New("submission store not configured")
	ErrTooManySessions       = errors.New("too many open sessions")
)

// SessionView is a copy of one session's state for display.
type SessionView struct {
	ID        string
	State     State
	Data      domain.FormData
	Result    domain.ValidationResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// formSession serializes every edit of one form: an edit is validated and
// stored before the next one is accepted.
type formSession struct {
	id        string
	mu        sync.Mutex
	orch      *Orchestrator
	closed    bool
	createdAt time.Time
	updatedAt time.Time
}

func (fs *formSession) view() SessionView {
	return SessionView{
		ID:        fs.id,
		State:     fs.orch.State(),
		Data:      fs.orch.Data(),
		Result:    fs.orch.Result(),
		CreatedAt: fs.createdAt,
		UpdatedAt: fs.updatedAt,
	}
}

// SessionService is the data-change boundary between a form view and the
// validation core. Sessions live in memory only.
type SessionService struct {
	schemas *SchemaService
	store   ports.SubmissionStore
	now     func() time.Time

	idleTTL     time.Duration
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*formSession
}

type SessionOption func(*SessionService)

func WithSubmissionStore(store ports.SubmissionStore) SessionOption {
	return func(s *SessionService) { s.store = store }
}

// WithIdleTTL lets Sweep evict sessions not edited for longer than ttl.
// Zero keeps sessions until they are submitted or closed.
func WithIdleTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithMaxSessions caps the number of open sessions. Zero means no cap.
func WithMaxSessions(n int) SessionOption {
	return func(s *SessionService) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func withClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

func NewSessionService(schemas *SchemaService, opts ...SessionOption) *SessionService {
	s := &SessionService{
		schemas:  schemas,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*formSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a pending session. When the cap is reached, idle sessions are
// swept first and ErrTooManySessions is returned if none could go.
func (s *SessionService) Open() (SessionView, error) {
	if s.maxSessions > 0 && s.Len() >= s.maxSessions {
		s.Sweep()
	}

	orch, err := NewOrchestrator(s.schemas.Schema())
	if err != nil {
		return SessionView{}, err
	}
	now := s.now()
	fs := &formSession{id: uuid.NewString(), orch: orch, createdAt: now, updatedAt: now}

	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return SessionView{}, ErrTooManySessions
	}
	s.sessions[fs.id] = fs
	s.mu.Unlock()

	return fs.view(), nil
}

// Apply hands a full snapshot to the session's orchestrator.
func (s *SessionService) Apply(id string, data domain.FormData) (domain.ValidationResult, error) {
	var result domain.ValidationResult
	err := s.with(id, func(fs *formSession) error {
		result = fs.orch.OnDataChange(data)
		fs.updatedAt = s.now()
		return nil
	})
	return result, err
}

func (s *SessionService) Get(id string) (SessionView, error) {
	var view SessionView
	err := s.with(id, func(fs *formSession) error {
		view = fs.view()
		return nil
	})
	return view, err
}

func (s *SessionService) Result(id string) (domain.ValidationResult, error) {
	view, err := s.Get(id)
	return view.Result, err
}

func (s *SessionService) Data(id string) (domain.FormData, error) {
	view, err := s.Get(id)
	return view.Data, err
}

// Summary renders the read-only row list of the current snapshot.
func (s *SessionService) Summary(id string) ([]string, bool, error) {
	view, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}
	lines, ok := view.Data.Summary()
	return lines, ok, nil
}

// Submit persists the current snapshot when it is valid and ends the session.
func (s *SessionService) Submit(ctx context.Context, id string, meta domain.SubmitMetadata) (domain.Submission, error) {
	if s.store == nil {
		return domain.Submission{}, ErrSubmissionUnavailable
	}
	meta = meta.Normalize()

	var saved domain.Submission
	err := s.with(id, func(fs *formSession) error {
		result := fs.orch.Result()
		if fs.orch.State() != StateValidated || !result.IsValid {
			return &domain.ErrFormInvalid{Result: result}
		}

		data := fs.orch.Data()
		if err := s.schemas.ValidateDocument(data); err != nil {
			return err
		}
		raw, err := json.Marshal(data.Compact())
		if err != nil {
			return fmt.Errorf("marshal submission: %w", err)
		}

		saved, err = s.store.SaveWithEvent(ctx, domain.Submission{
			ID:          uuid.NewString(),
			SessionID:   fs.id,
			Data:        raw,
			Meta:        meta,
			SubmittedAt: meta.SubmittedAt,
		})
		if err != nil {
			return fmt.Errorf("save submission: %w", err)
		}
		fs.closed = true
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}

	s.remove(id)
	log.Printf("form submitted session=%s submission=%s actor=%s", id, saved.ID, meta.Actor)
	return saved, nil
}

// Submission loads a stored submission by id.
func (s *SessionService) Submission(ctx context.Context, id string) (domain.Submission, error) {
	if s.store == nil {
		return domain.Submission{}, ErrSubmissionUnavailable
	}
	return s.store.Get(ctx, id)
}

// Sweep closes every session whose last edit is older than the idle TTL and
// returns how many it evicted. Sessions busy with an edit are left for the
// next sweep.
func (s *SessionService) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, fs := range s.sessions {
		if !fs.mu.TryLock() {
			continue
		}
		if fs.updatedAt.Before(cutoff) {
			fs.closed = true
			delete(s.sessions, id)
			evicted++
		}
		fs.mu.Unlock()
	}
	return evicted
}

// Close discards a session. It reports false when the id is unknown.
func (s *SessionService) Close(id string) bool {
	s.mu.Lock()
	fs, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	fs.mu.Lock()
	fs.closed = true
	fs.mu.Unlock()
	return true
}

// Len reports the number of open sessions.
func (s *SessionService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) with(id string, fn func(*formSession) error) error {
	s.mu.RLock()
	fs, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return domain.ErrSessionClosed
	}
	return fn(fs)
}

func (s *SessionService) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
