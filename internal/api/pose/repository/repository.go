package poseRepository

import (
	"context"

	"PoseService/internal/entity"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

func New(db *sqlx.DB, log *logrus.Logger) Repository {
	return &repository{
		DB:  db,
		log: log,
	}
}

type repository struct {
	DB  *sqlx.DB
	log *logrus.Logger
}

// Repository is the session journal. SessionOpened and SessionClosed make it
// usable directly as a session Journal.
type Repository interface {
	NewClient(tx bool) (Client, error)
	Migrate(ctx context.Context) error
	SessionOpened(ctx context.Context, rec entity.SessionRecord) error
	SessionClosed(ctx context.Context, rec entity.SessionRecord) error
}

func (r *repository) NewClient(tx bool) (Client, error) {
	var db sqlx.ExtContext
	var commitFunc, rollbackFunc func() error

	db = r.DB

	if tx {
		txx, err := r.DB.Beginx()
		if err != nil {
			return Client{}, err
		}

		db = txx
		commitFunc = txx.Commit
		rollbackFunc = txx.Rollback
	} else {
		commitFunc = func() error { return nil }
		rollbackFunc = func() error { return nil }
	}

	return Client{
		Sessions: &sessionRepository{q: db, log: r.log},
		Commit:   commitFunc,
		Rollback: rollbackFunc,
	}, nil
}

type Client struct {
	Sessions interface {
		MarkOpened(ctx context.Context, rec entity.SessionRecord) error
		MarkClosed(ctx context.Context, rec entity.SessionRecord) error
		GetByID(ctx context.Context, id string) (entity.SessionRecord, error)
	}

	Commit   func() error
	Rollback func() error
}

type sessionRepository struct {
	q   sqlx.ExtContext
	log *logrus.Logger
}

func (r *repository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, queryCreateSessionsTable); err != nil {
		r.log.WithField("error", err.Error()).Error("Failed to create pose_sessions table")
		return err
	}
	return nil
}

func (r *repository) SessionOpened(ctx context.Context, rec entity.SessionRecord) error {
	client, err := r.NewClient(false)
	if err != nil {
		return err
	}
	return client.Sessions.MarkOpened(ctx, rec)
}

func (r *repository) SessionClosed(ctx context.Context, rec entity.SessionRecord) error {
	client, err := r.NewClient(false)
	if err != nil {
		return err
	}
	return client.Sessions.MarkClosed(ctx, rec)
}
