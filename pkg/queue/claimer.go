package queue

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Claimer claims pending jobs through the fetcher role. That role can execute
// claim_pending_file_content and nothing else: it cannot mark jobs failed, so
// a job whose download breaks stays in indexing until the timeout sweep.
type Claimer struct {
	conn
}

func NewClaimer(log *logrus.Entry, dsn string) *Claimer {
	return &Claimer{conn: conn{Log: log, dsn: dsn}}
}

// Claim atomically claims up to n pending jobs. The stored procedure uses
// SELECT ... FOR UPDATE SKIP LOCKED and flips the rows to indexing; running it
// outside an explicit transaction means the row locks are released as soon as
// the statement commits, so concurrent uploader UPDATEs are never blocked.
func (c *Claimer) Claim(ctx context.Context, n int) ([]ClaimedJob, error) {
	pg, err := c.get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pg.Query(ctx, "SELECT * FROM claim_pending_file_content($1)", n)
	if err != nil {
		c.reset(ctx)
		return nil, err
	}
	defer rows.Close()

	var jobs []ClaimedJob
	for rows.Next() {
		var job ClaimedJob
		if err := rows.Scan(&job.ContentHash, &job.StoragePath, &job.SizeBytes, &job.TryCount, &job.FullPath); err != nil {
			c.reset(ctx)
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		c.reset(ctx)
		return nil, err
	}

	if len(jobs) > 0 {
		c.Log.WithFields(logrus.Fields{"count": len(jobs)}).Debug("claimed pending jobs")
	}
	return jobs, nil
}
