package poseRepository

const (
	queryCreateSessionsTable = `
CREATE TABLE IF NOT EXISTS pose_sessions (
    id               TEXT PRIMARY KEY,
    transport        TEXT NOT NULL,
    model_ref        TEXT NOT NULL DEFAULT '',
    opened_at        TIMESTAMPTZ NOT NULL,
    closed_at        TIMESTAMPTZ NULL,
    frames_processed BIGINT NOT NULL DEFAULT 0,
    poses_detected   BIGINT NOT NULL DEFAULT 0,
    failures         BIGINT NOT NULL DEFAULT 0
)`

	queryUpsertSessionOpened = `
INSERT INTO pose_sessions (id, transport, model_ref, opened_at)
VALUES (:id, :transport, :model_ref, :opened_at)
ON CONFLICT (id) DO UPDATE
SET model_ref = EXCLUDED.model_ref`

	queryUpsertSessionClosed = `
INSERT INTO pose_sessions (id, transport, model_ref, opened_at, closed_at, frames_processed, poses_detected, failures)
VALUES (:id, :transport, :model_ref, :opened_at, :closed_at, :frames_processed, :poses_detected, :failures)
ON CONFLICT (id) DO UPDATE
SET closed_at = EXCLUDED.closed_at,
    frames_processed = EXCLUDED.frames_processed,
    poses_detected = EXCLUDED.poses_detected,
    failures = EXCLUDED.failures`

	queryGetSessionByID = `
SELECT id, transport, model_ref, opened_at, closed_at, frames_processed, poses_detected, failures
FROM pose_sessions
    WHERE id = :id`
)
