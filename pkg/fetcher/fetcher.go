package fetcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/blob"
	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/queue"
	"github.com/christophe-duc/previewd/pkg/stage"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// Fetcher claims pending jobs and stages their input bytes for the
// orchestrator. It holds the claim-only database role and the blob store
// read credential; nothing downstream of it touches the network.
type Fetcher struct {
	Log     *logrus.Entry
	Config  *config.AppConfig
	Claimer *queue.Claimer
	Blob    *blob.Client
	Stage   *stage.Stage
}

func NewFetcher(log *logrus.Entry, appConfig *config.AppConfig) *Fetcher {
	userConfig := appConfig.UserConfig
	return &Fetcher{
		Log:     log,
		Config:  appConfig,
		Claimer: queue.NewClaimer(log, userConfig.DB.FetcherDSN),
		Blob:    blob.NewClient(log, userConfig.Blob),
		Stage:   stage.New(userConfig.Dirs.Input, userConfig.Dirs.Output, userConfig.Dirs.Status),
	}
}

// Run is the claim loop. It exits when the context is cancelled, finishing
// the job in flight first.
func (f *Fetcher) Run(ctx context.Context) error {
	if err := f.Stage.EnsureDirs(); err != nil {
		return err
	}

	queueConfig := f.Config.UserConfig.Queue
	f.Log.WithFields(logrus.Fields{
		"bucket":       f.Config.UserConfig.Blob.StorageBucket,
		"pollInterval": queueConfig.PollInterval,
	}).Info("fetcher starting")

	for {
		if ctx.Err() != nil {
			f.Log.Info("fetcher stopping")
			return f.Claimer.Close()
		}

		claimed := f.Tick(ctx)
		if claimed {
			// more work may be waiting, go straight back for it
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(queueConfig.PollInterval):
		}
	}
}

// Tick claims and stages at most one job. Returns true when a job was
// claimed, so the caller skips the poll sleep.
func (f *Fetcher) Tick(ctx context.Context) bool {
	// backpressure: while the orchestrator is behind, claiming more jobs
	// would only grow their indexing lease for no gain
	if ready := f.Stage.CountReady(); ready >= f.Config.UserConfig.Queue.ReadyBacklogLimit {
		f.Log.WithField("ready", ready).Debug("stage backlog full, skipping claim")
		return false
	}

	jobs, err := f.Claimer.Claim(ctx, 1)
	if err != nil {
		f.Log.WithError(err).Error("claim failed")
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	f.fetch(jobs[0])
	return true
}

// fetch downloads one claimed job into the input stage. A download failure
// leaves the row in indexing; the fetcher role cannot undo a claim, so the
// uploader's reclaim sweep returns it to pending later.
func (f *Fetcher) fetch(job queue.ClaimedJob) {
	log := f.Log.WithField("contentHash", utils.ShortHash(job.ContentHash))

	if job.StoragePath == "" {
		log.Warn("job has no storage path, leaving for reclaim sweep")
		return
	}

	filename := filepath.Base(job.FullPath)
	if job.FullPath == "" {
		filename = filepath.Base(job.StoragePath)
	}

	body, err := f.Blob.Download(f.Config.UserConfig.Blob.StorageBucket, job.StoragePath)
	if err != nil {
		log.WithError(err).Error("download failed")
		return
	}
	defer body.Close()

	meta := stage.JobMeta{
		ContentHash:       job.ContentHash,
		StoragePath:       job.StoragePath,
		OriginalFilename:  filename,
		OriginalExtension: strings.ToLower(filepath.Ext(filename)),
		TryCount:          job.TryCount,
	}
	if err := f.Stage.WriteInput(meta, body); err != nil {
		log.WithError(err).Error("staging input failed")
		return
	}

	log.WithField("file", filename).Info("fetched")
}
