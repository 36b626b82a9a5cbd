package session

import (
	"context"
	"fmt"

	"kgqa_agent/internal/common"

	"github.com/google/uuid"
)

// Session is a multi-round conversation persisted in a Store.
type Session struct {
	ID       string
	RoundNum int
	store    *Store
}

// NewSession creates a new session and persists it to the store.
func NewSession(ctx context.Context, store *Store) (*Session, error) {
	id := "sess_" + uuid.NewString()
	if err := store.CreateSession(ctx, id); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{ID: id, store: store}, nil
}

// ResumeSession loads an existing session from the store.
func ResumeSession(ctx context.Context, store *Store, sessionID string) (*Session, error) {
	exists, err := store.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	roundCount, err := store.GetRoundCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{ID: sessionID, RoundNum: roundCount, store: store}, nil
}

// History returns the earlier rounds. It is empty on the first round.
func (s *Session) History(ctx context.Context) ([]common.Exchange, error) {
	if s.RoundNum == 0 {
		return nil, nil
	}
	return s.store.History(ctx, s.ID)
}

// SaveRound persists a completed round.
func (s *Session) SaveRound(ctx context.Context, r common.Round) error {
	if err := s.store.SaveRound(ctx, s.ID, r); err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	s.RoundNum++
	return nil
}
