package poseRepository

import (
	"context"
	"database/sql"
	"errors"

	"PoseService/internal/entity"
	"PoseService/pkg/response"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrSessionNotFound = response.NewError(response.KindInternal, "session not found")

type SessionDB struct {
	ID              string       `db:"id"`
	Transport       string       `db:"transport"`
	ModelRef        string       `db:"model_ref"`
	OpenedAt        sql.NullTime `db:"opened_at"`
	ClosedAt        sql.NullTime `db:"closed_at"`
	FramesProcessed int64        `db:"frames_processed"`
	PosesDetected   int64        `db:"poses_detected"`
	Failures        int64        `db:"failures"`
}

func recordArgs(rec entity.SessionRecord) map[string]interface{} {
	args := map[string]interface{}{
		"id":               rec.ID,
		"transport":        string(rec.Transport),
		"model_ref":        rec.ModelRef,
		"opened_at":        rec.OpenedAt,
		"closed_at":        nil,
		"frames_processed": rec.FramesProcessed,
		"poses_detected":   rec.PosesDetected,
		"failures":         rec.Failures,
	}
	if rec.ClosedAt != nil {
		args["closed_at"] = *rec.ClosedAt
	}
	return args
}

func (r *sessionRepository) exec(ctx context.Context, name, query string, rec entity.SessionRecord) error {
	query, args, err := sqlx.Named(query, recordArgs(rec))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": rec.ID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for " + name)
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": rec.ID,
			"error":      err.Error(),
		}).Error("Failed to execute " + name)
		return err
	}

	return nil
}

func (r *sessionRepository) MarkOpened(ctx context.Context, rec entity.SessionRecord) error {
	return r.exec(ctx, "MarkOpened", queryUpsertSessionOpened, rec)
}

func (r *sessionRepository) MarkClosed(ctx context.Context, rec entity.SessionRecord) error {
	return r.exec(ctx, "MarkClosed", queryUpsertSessionClosed, rec)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (entity.SessionRecord, error) {
	query, args, err := sqlx.Named(queryGetSessionByID, map[string]interface{}{"id": id})
	if err != nil {
		return entity.SessionRecord{}, err
	}
	query = r.q.Rebind(query)

	var row SessionDB
	if err := sqlx.GetContext(ctx, r.q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.SessionRecord{}, ErrSessionNotFound
		}
		r.log.WithFields(logrus.Fields{
			"session_id": id,
			"error":      err.Error(),
		}).Error("Failed to get session")
		return entity.SessionRecord{}, err
	}

	return row.toEntity(), nil
}

func (s SessionDB) toEntity() entity.SessionRecord {
	rec := entity.SessionRecord{
		ID:              s.ID,
		Transport:       entity.Transport(s.Transport),
		ModelRef:        s.ModelRef,
		OpenedAt:        s.OpenedAt.Time,
		FramesProcessed: s.FramesProcessed,
		PosesDetected:   s.PosesDetected,
		Failures:        s.Failures,
	}
	if s.ClosedAt.Valid {
		closed := s.ClosedAt.Time
		rec.ClosedAt = &closed
	}
	return rec
}
