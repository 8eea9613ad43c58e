// Package checkpoint persists session snapshots so long-running research
// sessions can be paused and resumed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/research"
)

// ErrCheckpointNotFound is returned when no snapshot exists for a session.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Service stores one snapshot per session in Postgres, overwriting on
// each save. Snapshots are taken between iterations only, so a resumed
// session always starts within its token budget.
type Service struct {
	DB *database.PostgresDB
}

func NewService(db *database.PostgresDB) *Service {
	return &Service{DB: db}
}

// SessionCheckpointer binds the service to one session handle so it
// satisfies research.Checkpointer.
type SessionCheckpointer struct {
	svc       *Service
	sessionID uuid.UUID
}

// ForSession returns a checkpointer writing under the given session id.
func (s *Service) ForSession(sessionID uuid.UUID) *SessionCheckpointer {
	return &SessionCheckpointer{svc: s, sessionID: sessionID}
}

// SaveCheckpoint implements research.Checkpointer.
func (c *SessionCheckpointer) SaveCheckpoint(ctx context.Context, snapshot research.Snapshot) error {
	return c.svc.Save(ctx, c.sessionID, snapshot)
}

// Save upserts the snapshot for a session.
func (s *Service) Save(ctx context.Context, sessionID uuid.UUID, snapshot research.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO session_checkpoints (session_id, snapshot, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET snapshot = $2, saved_at = NOW()
	`
	if _, err := s.DB.Pool.Exec(ctx, query, sessionID, payload); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the latest snapshot for a session.
func (s *Service) Load(ctx context.Context, sessionID uuid.UUID) (*research.Snapshot, error) {
	var payload []byte
	query := `SELECT snapshot FROM session_checkpoints WHERE session_id = $1`
	err := s.DB.Pool.QueryRow(ctx, query, sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var snapshot research.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// CheckpointInfo describes a stored snapshot without its payload.
type CheckpointInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
}

// List returns all stored checkpoints, newest first.
func (s *Service) List(ctx context.Context) ([]CheckpointInfo, error) {
	query := `SELECT session_id, saved_at FROM session_checkpoints ORDER BY saved_at DESC`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		if err := rows.Scan(&info.SessionID, &info.SavedAt); err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete removes a session's snapshot once it is no longer needed.
func (s *Service) Delete(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.DB.Pool.Exec(ctx, `DELETE FROM session_checkpoints WHERE session_id = $1`, sessionID)
	return err
}
