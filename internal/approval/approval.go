package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrRequestNotFound = errors.New("approval request not found")

// Request is a pending modification-approval raised against a locked or
// confirmed checklist. Only an admin decision moves the checklist back
// to an editable state.
type Request struct {
	ID          string    `json:"id"`
	ChecklistID string    `json:"checklist_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Service is the in-process admin approval workflow. The engine raises
// requests through Request; an admin decides through Approve or Reject,
// and approval triggers the registered callback.
type Service struct {
	mu         sync.Mutex
	pending    map[string]Request
	onApproved func(ctx context.Context, checklistID string) error
	log        *slog.Logger
}

func New(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pending: make(map[string]Request),
		log:     log,
	}
}

// OnApproved registers the callback invoked when a request is approved.
// Must be called before the service starts receiving requests.
func (s *Service) OnApproved(fn func(ctx context.Context, checklistID string) error) {
	s.onApproved = fn
}

func (s *Service) Request(ctx context.Context, checklistID, reason string) (string, error) {
	req := Request{
		ID:          uuid.NewString(),
		ChecklistID: checklistID,
		Reason:      reason,
		RequestedAt: time.Now(),
	}

	s.mu.Lock()
	s.pending[req.ID] = req
	s.mu.Unlock()

	s.log.Info("modification approval requested", "request_id", req.ID, "checklist_id", checklistID)
	return req.ID, nil
}

func (s *Service) Approve(ctx context.Context, requestID string) error {
	s.mu.Lock()
	req, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrRequestNotFound
	}

	if s.onApproved != nil {
		if err := s.onApproved(ctx, req.ChecklistID); err != nil {
			// put the request back so the admin can retry
			s.mu.Lock()
			s.pending[req.ID] = req
			s.mu.Unlock()
			return err
		}
	}

	s.log.Info("modification approved", "request_id", requestID, "checklist_id", req.ChecklistID)
	return nil
}

func (s *Service) Reject(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[requestID]; !ok {
		return ErrRequestNotFound
	}
	delete(s.pending, requestID)
	s.log.Info("modification rejected", "request_id", requestID)
	return nil
}

func (s *Service) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	return out
}
