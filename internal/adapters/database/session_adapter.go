package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/govscan/licitahub/backend/pkg/errors"
)

// SessionAdapter implements SessionRepository on Postgres. Sessions live in
// search_sessions; their audit trail lives in search_state_transitions,
// which only ever receives inserts.
type SessionAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSessionAdapter creates a new session adapter
func NewSessionAdapter(client *postgres.Client) repositories.SessionRepository {
	return &SessionAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// CreateSession inserts a new session row
func (a *SessionAdapter) CreateSession(ctx context.Context, session *entities.SearchSession) error {
	record := goqu.Record{
		"search_id":      session.SearchID,
		"status":         string(session.Status),
		"pipeline_stage": sql.NullString{String: session.PipelineStage, Valid: session.PipelineStage != ""},
		"started_at":     session.StartedAt,
		"completed_at":   session.CompletedAt,
		"error_code":     sql.NullString{String: session.ErrorCode, Valid: session.ErrorCode != ""},
		"failed_regions": pq.Array(session.FailedRegions),
	}

	query, args, err := a.db.Insert("search_sessions").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	_, err = a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to create search session", err)
	}

	return nil
}

// UpdateSession updates the mutable fields of a session row
func (a *SessionAdapter) UpdateSession(ctx context.Context, session *entities.SearchSession) error {
	record := goqu.Record{
		"status":         string(session.Status),
		"pipeline_stage": sql.NullString{String: session.PipelineStage, Valid: session.PipelineStage != ""},
		"completed_at":   session.CompletedAt,
		"error_code":     sql.NullString{String: session.ErrorCode, Valid: session.ErrorCode != ""},
		"failed_regions": pq.Array(session.FailedRegions),
	}

	query, args, err := a.db.Update("search_sessions").
		Set(record).
		Where(goqu.Ex{"search_id": session.SearchID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update search session", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return apperrors.NewNotFoundError("search session not found: " + session.SearchID)
	}

	return nil
}

// GetSession retrieves a session by its search ID
func (a *SessionAdapter) GetSession(ctx context.Context, searchID string) (*entities.SearchSession, error) {
	query, args, err := a.db.Select(
		"search_id", "status", "pipeline_stage", "started_at",
		"completed_at", "error_code", "failed_regions",
	).From("search_sessions").
		Where(goqu.Ex{"search_id": searchID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	session := &entities.SearchSession{}
	var status string
	var pipelineStage, errorCode sql.NullString

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&session.SearchID,
		&status,
		&pipelineStage,
		&session.StartedAt,
		&session.CompletedAt,
		&errorCode,
		pq.Array(&session.FailedRegions),
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("search session not found: " + searchID)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get search session", err)
	}

	session.Status = entities.SessionStatus(status)
	session.PipelineStage = pipelineStage.String
	session.ErrorCode = errorCode.String

	return session, nil
}

// AppendTransition appends one audit row
func (a *SessionAdapter) AppendTransition(ctx context.Context, transition *entities.SearchStateTransition) error {
	if transition.ID == "" {
		transition.ID = uuid.New().String()
	}
	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now()
	}

	record := goqu.Record{
		"id":                         transition.ID,
		"search_id":                  transition.SearchID,
		"from_state":                 string(transition.FromState),
		"to_state":                   string(transition.ToState),
		"stage":                      sql.NullString{String: transition.Stage, Valid: transition.Stage != ""},
		"details_json":               nullableJSON(transition.DetailsJSON),
		"duration_since_previous_ms": transition.DurationSincePreviousMs,
		"created_at":                 transition.CreatedAt,
	}

	query, args, err := a.db.Insert("search_state_transitions").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	_, err = a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to append state transition", err)
	}

	return nil
}

// ListTransitions returns a session's audit rows in append order
func (a *SessionAdapter) ListTransitions(ctx context.Context, searchID string) ([]*entities.SearchStateTransition, error) {
	query, args, err := a.db.Select(
		"id", "search_id", "from_state", "to_state", "stage",
		"details_json", "duration_since_previous_ms", "created_at",
	).From("search_state_transitions").
		Where(goqu.Ex{"search_id": searchID}).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list state transitions", err)
	}
	defer rows.Close()

	var transitions []*entities.SearchStateTransition
	for rows.Next() {
		t := &entities.SearchStateTransition{}
		var fromState, toState string
		var stage sql.NullString
		var details []byte

		err := rows.Scan(
			&t.ID,
			&t.SearchID,
			&fromState,
			&toState,
			&stage,
			&details,
			&t.DurationSincePreviousMs,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan state transition", err)
		}

		t.FromState = entities.SessionStatus(fromState)
		t.ToState = entities.SessionStatus(toState)
		t.Stage = stage.String
		t.DetailsJSON = details

		transitions = append(transitions, t)
	}

	return transitions, nil
}

// ListStaleProcessing returns sessions still processing that started before
// the given instant
func (a *SessionAdapter) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*entities.SearchSession, error) {
	query, args, err := a.db.Select(
		"search_id", "status", "pipeline_stage", "started_at",
		"completed_at", "error_code", "failed_regions",
	).From("search_sessions").
		Where(goqu.Ex{"status": string(entities.SessionProcessing)}).
		Where(goqu.I("started_at").Lt(olderThan)).
		Order(goqu.I("started_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list stale sessions", err)
	}
	defer rows.Close()

	var sessions []*entities.SearchSession
	for rows.Next() {
		session := &entities.SearchSession{}
		var status string
		var pipelineStage, errorCode sql.NullString

		err := rows.Scan(
			&session.SearchID,
			&status,
			&pipelineStage,
			&session.StartedAt,
			&session.CompletedAt,
			&errorCode,
			pq.Array(&session.FailedRegions),
		)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan search session", err)
		}

		session.Status = entities.SessionStatus(status)
		session.PipelineStage = pipelineStage.String
		session.ErrorCode = errorCode.String

		sessions = append(sessions, session)
	}

	return sessions, nil
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
