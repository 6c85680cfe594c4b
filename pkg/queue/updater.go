package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Updater writes job results through the uploader role. That role has UPDATE
// on exactly the result columns of file_contents and no other grant.
type Updater struct {
	conn
	MaxRetries int
}

func NewUpdater(log *logrus.Entry, dsn string, maxRetries int) *Updater {
	return &Updater{conn: conn{Log: log, dsn: dsn}, MaxRetries: maxRetries}
}

// MarkCompleted sets the job to done and stores the derived artifacts. Nil
// thumbnailPath/extractedText leave the existing column values untouched so a
// reprocessed job cannot erase artifacts from an earlier run.
func (u *Updater) MarkCompleted(ctx context.Context, contentHash string, thumbnailPath, extractedText *string) error {
	pg, err := u.get(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = pg.Exec(ctx, `
		UPDATE file_contents SET
			processing_status = 'done',
			thumbnail_path = COALESCE($1, thumbnail_path),
			thumbnail_generated_at = CASE WHEN $1::text IS NOT NULL THEN $2 ELSE thumbnail_generated_at END,
			extracted_text = COALESCE($3, extracted_text),
			last_status_change = $2,
			db_updated_at = $2
		WHERE content_hash = $4`,
		thumbnailPath, now, extractedText, contentHash)
	if err != nil {
		u.reset(ctx)
		return err
	}
	return nil
}

// MarkFailed bumps try_count and moves the job back to pending, or parks it in
// error once the retry budget is spent.
func (u *Updater) MarkFailed(ctx context.Context, contentHash string, tryCount int) error {
	pg, err := u.get(ctx)
	if err != nil {
		return err
	}

	status := u.retryStatus(tryCount)

	now := time.Now().UTC()
	_, err = pg.Exec(ctx, `
		UPDATE file_contents SET
			processing_status = $1,
			try_count = $2,
			last_status_change = $3,
			db_updated_at = $3
		WHERE content_hash = $4`,
		status, tryCount, now, contentHash)
	if err != nil {
		u.reset(ctx)
		return err
	}

	u.Log.WithFields(logrus.Fields{
		"contentHash": contentHash,
		"tryCount":    tryCount,
		"status":      status,
	}).Info("marked job failed")
	return nil
}

// retryStatus is the state a failed job moves to given its new try count:
// back to pending while the retry budget lasts, parked in error once it is
// spent.
func (u *Updater) retryStatus(tryCount int) string {
	if tryCount >= u.MaxRetries {
		return "error"
	}
	return "pending"
}

// ReclaimStuck moves jobs that have sat in indexing longer than maxAge back to
// pending with a try_count bump, or into error once the retry budget is spent.
// This recovers jobs lost to a mid-pipeline crash or a fetcher download
// failure, which the claim-only role cannot undo; the cap keeps a job whose
// download always stalls from cycling pending and indexing forever.
func (u *Updater) ReclaimStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	pg, err := u.get(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	tag, err := pg.Exec(ctx, `
		UPDATE file_contents SET
			processing_status = CASE WHEN try_count + 1 >= $3 THEN 'error' ELSE 'pending' END,
			try_count = try_count + 1,
			last_status_change = $1,
			db_updated_at = $1
		WHERE processing_status = 'indexing' AND last_status_change < $2`,
		now, now.Add(-maxAge), u.MaxRetries)
	if err != nil {
		u.reset(ctx)
		return 0, err
	}

	if tag.RowsAffected() > 0 {
		u.Log.WithFields(logrus.Fields{"count": tag.RowsAffected()}).Warn("reclaimed jobs stuck in indexing")
	}
	return tag.RowsAffected(), nil
}
