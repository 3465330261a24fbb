// Package dashboard owns the status/validation reconciliation for the aquarium
// dashboard: the in-memory system status every view renders, the reconciled
// challenge list, validation, spoiler confirmations and the periodic re-pull that
// keeps it all fresh.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"aquarium-dashboard/pkg/catalog"
	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/status"
	"aquarium-dashboard/pkg/store"
	"aquarium-dashboard/pkg/validator"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrInvalidKind       = errors.New("confirmation kind must be solution or lecture")
)

// ChallengeSource fetches the current challenge list from the brain service.
type ChallengeSource interface {
	CurrentChallenges(ctx context.Context) (*models.ChallengesResponse, error)
}

// Checker validates challenges and probes component health.
type Checker interface {
	Validate(ctx context.Context, ch models.Challenge, update validator.UpdateFunc) models.ValidationResult
	Probe(ctx context.Context, ch models.Challenge) (string, error)
}

// Service is the stateful reconciler shared by every view.
type Service struct {
	store   *store.Store
	checker Checker
	source  ChallengeSource
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status models.SystemStatus
	latest *models.ChallengesResponse // Last unreconciled list, from remote, cache or catalog
}

// NewService creates a service starting from the pessimistic default status. Call
// Load before serving.
func NewService(st *store.Store, checker Checker, source ChallengeSource, log zerolog.Logger) *Service {
	return &Service{
		store:   st,
		checker: checker,
		source:  source,
		log:     log,
		now:     time.Now,
		status:  status.Default(time.Now()),
	}
}

// Load restores state from the store. A missing or corrupted status snapshot triggers a
// fresh probe of every component.
func (s *Service) Load(ctx context.Context) {
	if cached, ok := s.store.Challenges(ctx); ok {
		s.mu.Lock()
		s.latest = cached
		s.mu.Unlock()
	}

	if persisted, ok := s.store.SystemStatus(ctx); ok {
		s.mu.Lock()
		s.status = persisted
		s.mu.Unlock()
		s.log.Info().Str("overall_status", persisted.OverallStatus).Msg("Restored persisted system status")
		return
	}

	s.log.Info().Msg("No usable persisted status, probing components")
	s.RefreshStatus(ctx)
}

// Status returns the current snapshot.
func (s *Service) Status() models.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ApplyPatch merges patch into the current status and persists the result.
func (s *Service) ApplyPatch(ctx context.Context, patch status.Patch) models.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status.Merge(s.status, patch, s.now())
	s.store.SaveSystemStatus(ctx, s.status)
	return s.status
}

// RefreshStatus probes all five components concurrently and merges the results in one
// step. A component whose probe fails falls back to its pessimistic default. When ctx
// ends before the probes finish nothing is merged or persisted.
func (s *Service) RefreshStatus(ctx context.Context) models.SystemStatus {
	list := s.currentList()

	var (
		mu    sync.Mutex
		patch = make(status.Patch, len(models.Components))
		g     errgroup.Group
	)
	for _, id := range status.ChallengeIDs() {
		ch := challengeByID(list, id)
		if ch == nil {
			ch = &models.Challenge{ID: id}
		}
		component := status.MapChallengeIDToComponent(id)

		g.Go(func() error {
			value, err := s.checker.Probe(ctx, *ch)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			if err != nil {
				s.log.Warn().Err(err).Int("challenge_id", id).Str("component", string(component)).
					Msg("Component probe failed, assuming pessimistic default")
				value = status.PessimisticDefault(component)
			}
			mu.Lock()
			patch[component] = value
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// An abandoned refresh says nothing about the components
	if err := ctx.Err(); err != nil {
		s.log.Debug().Err(err).Msg("Status refresh abandoned, keeping current status")
		return s.Status()
	}

	merged := s.ApplyPatch(ctx, patch)
	s.log.Debug().Str("overall_status", merged.OverallStatus).Msg("System status refreshed")
	return merged
}

// Challenges returns the challenge list reconciled with the solved-set. The list comes
// from the brain service when reachable, otherwise from the cache, otherwise from the
// built-in catalog.
func (s *Service) Challenges(ctx context.Context) *models.ChallengesResponse {
	remote, err := s.source.CurrentChallenges(ctx)
	switch {
	case err == nil && remote != nil:
		s.mu.Lock()
		changed := s.latest == nil || !cmp.Equal(s.latest, remote)
		s.latest = remote
		s.mu.Unlock()
		if changed {
			s.store.SaveChallenges(ctx, remote)
		}
	default:
		s.log.Warn().Err(err).Msg("Challenge service unavailable, using cached list")
		if cached, ok := s.store.Challenges(ctx); ok {
			s.mu.Lock()
			s.latest = cached
			s.mu.Unlock()
		}
	}

	return s.reconcile(ctx, s.currentList())
}

// currentList returns the last known list or the built-in catalog.
func (s *Service) currentList() *models.ChallengesResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil {
		return s.latest
	}
	return catalog.Default()
}

// reconcile marks as solved every challenge that the remote reports solved or that is
// in the local solved-set, and recounts.
func (s *Service) reconcile(ctx context.Context, list *models.ChallengesResponse) *models.ChallengesResponse {
	solved := make(map[int]bool)
	for _, id := range s.store.SolvedIDs(ctx) {
		solved[id] = true
	}

	out := &models.ChallengesResponse{Challenges: make([]models.Challenge, len(list.Challenges))}
	for i, ch := range list.Challenges {
		if solved[ch.ID] || ch.Status == models.ChallengeSolved {
			ch.Status = models.ChallengeSolved
			out.Solved++
		} else {
			ch.Status = models.ChallengePending
		}
		out.Challenges[i] = ch
	}
	out.Total = len(out.Challenges)
	return out
}

func challengeByID(list *models.ChallengesResponse, id int) *models.Challenge {
	if list == nil {
		return nil
	}
	for i := range list.Challenges {
		if list.Challenges[i].ID == id {
			ch := list.Challenges[i]
			return &ch
		}
	}
	return nil
}

// ValidateChallenge runs validation for one challenge and records the message shown.
func (s *Service) ValidateChallenge(ctx context.Context, id int) (models.ValidationResult, error) {
	ch := challengeByID(s.currentList(), id)
	if ch == nil {
		return models.ValidationResult{}, ErrChallengeNotFound
	}

	result := s.checker.Validate(ctx, *ch, func(p status.Patch) {
		s.ApplyPatch(ctx, p)
	})
	s.store.SaveMessage(ctx, id, result.Message)
	return result, nil
}

// Message returns the last validation message for a challenge.
func (s *Service) Message(ctx context.Context, id int) models.ValidationMessage {
	msg, ok := s.store.Message(ctx, id)
	return models.ValidationMessage{ChallengeID: id, Message: msg, Present: ok}
}

// Confirmations returns the spoiler latches for a challenge.
func (s *Service) Confirmations(ctx context.Context, id int) models.ConfirmedActions {
	return s.store.Confirmations(ctx, id)
}

// Confirm latches one spoiler confirmation.
func (s *Service) Confirm(ctx context.Context, id int, kind models.ConfirmKind) (models.ConfirmedActions, error) {
	if !kind.Valid() {
		return models.ConfirmedActions{}, ErrInvalidKind
	}
	if challengeByID(s.currentList(), id) == nil {
		return models.ConfirmedActions{}, ErrChallengeNotFound
	}
	s.store.Confirm(ctx, id, kind)
	return s.store.Confirmations(ctx, id), nil
}

// ResetSolved empties the solved-set.
func (s *Service) ResetSolved(ctx context.Context) models.ResetResult {
	ids, ok := s.store.ClearSolved(ctx)
	if !ok {
		return models.ResetResult{}
	}
	s.log.Info().Int("cleared", len(ids)).Msg("Solved challenges reset")
	return models.ResetResult{Cleared: len(ids)}
}

// Visitor reports the first-visit flag.
func (s *Service) Visitor(ctx context.Context) models.VisitorState {
	return models.VisitorState{HasVisited: s.store.HasVisited(ctx)}
}

// MarkVisited records that the welcome screen was dismissed.
func (s *Service) MarkVisited(ctx context.Context) models.VisitorState {
	s.store.MarkVisited(ctx)
	return models.VisitorState{HasVisited: true}
}

// Resync re-reads persisted state after another process changed it. It never writes,
// so it cannot trigger another round of notifications.
func (s *Service) Resync(ctx context.Context) {
	persisted, okStatus := s.store.SystemStatus(ctx)
	cached, okList := s.store.Challenges(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if okStatus {
		s.status = persisted
	}
	if okList {
		s.latest = cached
	}
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
