// Package store gives typed access to the dashboard's persisted state: the last known
// system status, the cached challenge list, the solved-set, spoiler confirmation
// latches, the last validation message per challenge and the first-visit flag.
//
// Reads and writes never fail the caller. Backend errors are logged and degrade to
// "absent" on read and to a no-op on write. Every successful write is announced on the
// events bus so other views can re-sync.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"aquarium-dashboard/pkg/db"
	"aquarium-dashboard/pkg/events"
	"aquarium-dashboard/pkg/models"

	"github.com/rs/zerolog"
)

// Persisted key layout.
const (
	KeySystemStatus = "system_status"
	KeyChallenges   = "challenges_data"
	KeySolved       = "solved_challenges"
	KeyVisited      = "hasVisitedBefore"
)

// MessageKey is the key holding the last validation message for a challenge.
func MessageKey(challengeID int) string {
	return fmt.Sprintf("validation_message_%d", challengeID)
}

// ConfirmKey is the key holding a spoiler confirmation latch.
func ConfirmKey(challengeID int, kind models.ConfirmKind) string {
	return fmt.Sprintf("shellcon_%s_confirmed_%d", kind, challengeID)
}

// Store wraps a key/value backend with typed accessors.
type Store struct {
	kv     db.KV
	bus    *events.Bus
	origin string
	log    zerolog.Logger

	solvedMu    sync.Mutex // Serializes solved-set changes within this process
	beforeWrite atomic.Pointer[func()]
}

// New creates a store. bus may be nil when no observers exist; origin identifies this
// process on published changes.
func New(kv db.KV, bus *events.Bus, origin string, log zerolog.Logger) *Store {
	return &Store{kv: kv, bus: bus, origin: origin, log: log}
}

// Origin returns the instance id stamped on published changes.
func (s *Store) Origin() string {
	return s.origin
}

// SetBeforeWrite registers fn to run right before every backend mutation, so a
// watcher of the backing file can tell this process's writes from others'. Passing
// nil removes it.
func (s *Store) SetBeforeWrite(fn func()) {
	if fn == nil {
		s.beforeWrite.Store(nil)
		return
	}
	s.beforeWrite.Store(&fn)
}

func (s *Store) aboutToWrite() {
	if fn := s.beforeWrite.Load(); fn != nil {
		(*fn)()
	}
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Store read failed, treating as absent")
		return "", false
	}
	return value, ok
}

func (s *Store) write(ctx context.Context, key, value string) bool {
	s.aboutToWrite()
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Store write failed")
		return false
	}
	s.notify(key)
	return true
}

func (s *Store) remove(ctx context.Context, key string) bool {
	s.aboutToWrite()
	if err := s.kv.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Store delete failed")
		return false
	}
	s.notify(key)
	return true
}

func (s *Store) notify(key string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Change{Key: key, Origin: s.origin, At: time.Now()})
}

func (s *Store) readJSON(ctx context.Context, key string, out any) bool {
	raw, ok := s.read(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Corrupted store value, treating as absent")
		return false
	}
	return true
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to encode store value")
		return false
	}
	return s.write(ctx, key, string(raw))
}

// SystemStatus returns the persisted snapshot. ok is false when it is missing or corrupted.
func (s *Store) SystemStatus(ctx context.Context) (models.SystemStatus, bool) {
	var st models.SystemStatus
	if !s.readJSON(ctx, KeySystemStatus, &st) {
		return models.SystemStatus{}, false
	}
	return st, true
}

// SaveSystemStatus persists the snapshot.
func (s *Store) SaveSystemStatus(ctx context.Context, st models.SystemStatus) bool {
	return s.writeJSON(ctx, KeySystemStatus, st)
}

// Challenges returns the cached challenge list.
func (s *Store) Challenges(ctx context.Context) (*models.ChallengesResponse, bool) {
	var resp models.ChallengesResponse
	if !s.readJSON(ctx, KeyChallenges, &resp) {
		return nil, false
	}
	return &resp, true
}

// SaveChallenges caches the last challenge list fetched from the brain service.
func (s *Store) SaveChallenges(ctx context.Context, resp *models.ChallengesResponse) bool {
	if resp == nil {
		return false
	}
	return s.writeJSON(ctx, KeyChallenges, resp)
}

// SolvedIDs returns the persisted solved-set in insertion order.
func (s *Store) SolvedIDs(ctx context.Context) []int {
	var ids []int
	if !s.readJSON(ctx, KeySolved, &ids) {
		return nil
	}
	return ids
}

// IsSolved reports whether id is in the solved-set.
func (s *Store) IsSolved(ctx context.Context, id int) bool {
	return slices.Contains(s.SolvedIDs(ctx), id)
}

// AddSolved appends id to the solved-set. Adding an id that is already present is a
// no-op and reports false. Concurrent adds of different ids, from this process or from
// another one sharing the backend, all land.
func (s *Store) AddSolved(ctx context.Context, id int) bool {
	s.solvedMu.Lock()
	defer s.solvedMu.Unlock()

	written, err := s.kv.Update(ctx, KeySolved, func(current string, exists bool) (string, bool, error) {
		var ids []int
		if exists {
			if err := json.Unmarshal([]byte(current), &ids); err != nil {
				s.log.Warn().Err(err).Str("key", KeySolved).Msg("Corrupted solved-set, starting over")
				ids = nil
			}
		}
		if slices.Contains(ids, id) {
			return "", false, nil
		}
		raw, err := json.Marshal(append(ids, id))
		if err != nil {
			return "", false, err
		}
		s.aboutToWrite()
		return string(raw), true, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Int("challenge_id", id).Msg("Failed to add solved challenge")
		return false
	}
	if written {
		s.notify(KeySolved)
	}
	return written
}

// ClearSolved empties the solved-set and returns the ids it held.
func (s *Store) ClearSolved(ctx context.Context) ([]int, bool) {
	s.solvedMu.Lock()
	defer s.solvedMu.Unlock()

	ids := s.SolvedIDs(ctx)
	return ids, s.remove(ctx, KeySolved)
}

// IsConfirmed reports whether the user has acknowledged the spoiler prompt.
func (s *Store) IsConfirmed(ctx context.Context, challengeID int, kind models.ConfirmKind) bool {
	value, ok := s.read(ctx, ConfirmKey(challengeID, kind))
	return ok && value == "true"
}

// Confirm latches the confirmation flag. There is no way to revoke it.
func (s *Store) Confirm(ctx context.Context, challengeID int, kind models.ConfirmKind) bool {
	if !kind.Valid() {
		return false
	}
	if s.IsConfirmed(ctx, challengeID, kind) {
		return true
	}
	return s.write(ctx, ConfirmKey(challengeID, kind), "true")
}

// Confirmations returns both latches for a challenge.
func (s *Store) Confirmations(ctx context.Context, challengeID int) models.ConfirmedActions {
	return models.ConfirmedActions{
		ChallengeID: challengeID,
		Solution:    s.IsConfirmed(ctx, challengeID, models.ConfirmSolution),
		Lecture:     s.IsConfirmed(ctx, challengeID, models.ConfirmLecture),
	}
}

// Message returns the last validation message shown for a challenge.
func (s *Store) Message(ctx context.Context, challengeID int) (string, bool) {
	return s.read(ctx, MessageKey(challengeID))
}

// SaveMessage persists the last validation message for a challenge.
func (s *Store) SaveMessage(ctx context.Context, challengeID int, message string) bool {
	return s.write(ctx, MessageKey(challengeID), message)
}

// HasVisited reports whether the welcome screen has been dismissed before.
func (s *Store) HasVisited(ctx context.Context) bool {
	value, ok := s.read(ctx, KeyVisited)
	return ok && value == "true"
}

// MarkVisited records that the welcome screen was dismissed.
func (s *Store) MarkVisited(ctx context.Context) bool {
	return s.write(ctx, KeyVisited, "true")
}
