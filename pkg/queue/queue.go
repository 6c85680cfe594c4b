package queue

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// ClaimedJob is one row returned by claim_pending_file_content.
type ClaimedJob struct {
	ContentHash string
	StoragePath string
	SizeBytes   int64
	TryCount    int
	FullPath    string
}

// conn is the common connection handling for both restricted roles: lazy
// connect, and a forced reconnect after any error so a dead connection never
// wedges the loop.
type conn struct {
	Log *logrus.Entry
	dsn string
	pg  *pgx.Conn
}

func (c *conn) get(ctx context.Context) (*pgx.Conn, error) {
	if c.pg != nil && !c.pg.IsClosed() {
		return c.pg, nil
	}
	pg, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, err
	}
	c.pg = pg
	c.Log.Info("connected to postgres")
	return pg, nil
}

// reset drops the connection so the next call reconnects.
func (c *conn) reset(ctx context.Context) {
	if c.pg != nil {
		_ = c.pg.Close(ctx)
		c.pg = nil
	}
}

func (c *conn) Close() error {
	if c.pg != nil {
		return c.pg.Close(context.Background())
	}
	return nil
}
