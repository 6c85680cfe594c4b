package uploader

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/blob"
	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/processor"
	"github.com/christophe-duc/previewd/pkg/queue"
	"github.com/christophe-duc/previewd/pkg/stage"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// Uploader consumes .done and .failed markers, sanitizes the sandbox's
// outputs, uploads thumbnails and writes results back through the restricted
// update role. It also runs the reclaim sweep for jobs stuck in indexing,
// the one recovery the claim-only fetcher role cannot perform.
type Uploader struct {
	Log     *logrus.Entry
	Config  *config.AppConfig
	Updater *queue.Updater
	Blob    *blob.Client
	Stage   *stage.Stage

	processed   int
	failed      int
	lastReclaim time.Time
}

func NewUploader(log *logrus.Entry, appConfig *config.AppConfig) *Uploader {
	userConfig := appConfig.UserConfig
	return &Uploader{
		Log:     log,
		Config:  appConfig,
		Updater: queue.NewUpdater(log, userConfig.DB.UploaderDSN, userConfig.Queue.MaxRetries),
		Blob:    blob.NewClient(log, userConfig.Blob),
		Stage:   stage.New(userConfig.Dirs.Input, userConfig.Dirs.Output, userConfig.Dirs.Status),
	}
}

// Run is the result loop. It exits when the context is cancelled, finishing
// the marker in flight first.
func (u *Uploader) Run(ctx context.Context) error {
	if err := u.Stage.EnsureDirs(); err != nil {
		return err
	}

	u.Log.WithField("bucket", u.Config.UserConfig.Blob.ThumbnailBucket).Info("uploader starting")

	for {
		if ctx.Err() != nil {
			u.Log.Info("uploader stopping")
			return u.Updater.Close()
		}

		u.Tick(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(u.Config.UserConfig.Queue.PollInterval):
		}
	}
}

// Tick drains the current done and failed markers and, periodically, reclaims
// jobs stuck in indexing.
func (u *Uploader) Tick(ctx context.Context) {
	for _, hash := range u.Stage.ListDone() {
		if ctx.Err() != nil {
			return
		}
		meta, err := u.Stage.ConsumeDone(hash)
		if err != nil {
			u.Log.WithField("contentHash", utils.ShortHash(hash)).WithError(err).Error("unreadable done marker")
			meta = stage.JobMeta{ContentHash: hash}
		}
		u.processDone(ctx, hash, meta)
	}

	for _, hash := range u.Stage.ListFailed() {
		if ctx.Err() != nil {
			return
		}
		errText, err := u.Stage.ConsumeFailed(hash)
		if err != nil {
			continue
		}
		u.processFailed(ctx, hash, errText)
	}

	u.maybeReclaim(ctx)
}

// processDone handles one completed job: forward the sandbox log, parse the
// result, sanitize and upload, update the row, clean the output volume.
func (u *Uploader) processDone(ctx context.Context, contentHash string, meta stage.JobMeta) {
	log := u.Log.WithField("contentHash", utils.ShortHash(contentHash))
	defer u.Stage.CleanupOutput(contentHash)

	u.forwardProcessorLog(contentHash)

	result, err := u.readResult(contentHash)
	if err != nil {
		log.WithError(err).Error("no usable result from sandbox")
		u.markFailed(ctx, contentHash, meta.TryCount)
		return
	}

	if !result.Success {
		errText := "unknown error"
		if result.Error != nil {
			errText = *result.Error
		}
		log.WithField("error", errText).Warn("sandbox reported failure")
		u.markFailed(ctx, contentHash, meta.TryCount)
		return
	}

	var thumbnailPath *string
	if result.ThumbnailFile != nil {
		if path, ok := u.sanitizeAndUpload(log, contentHash); ok {
			thumbnailPath = &path
		}
	}

	var extractedText *string
	if result.ExtractedText != nil && *result.ExtractedText != "" {
		text := SanitizeText(*result.ExtractedText, u.Config.UserConfig.Text.MaxLength)
		if text != "" {
			extractedText = &text
		}
	}

	if err := u.Updater.MarkCompleted(ctx, contentHash, thumbnailPath, extractedText); err != nil {
		log.WithError(err).Error("could not mark job completed")
		u.markFailed(ctx, contentHash, meta.TryCount)
		return
	}

	u.processed++
	log.WithFields(logrus.Fields{
		"file":      meta.OriginalFilename,
		"thumbnail": thumbnailPath != nil,
		"text":      extractedText != nil,
	}).Info("completed")
	u.maybeLogStats()
}

func (u *Uploader) processFailed(ctx context.Context, contentHash, errText string) {
	log := u.Log.WithField("contentHash", utils.ShortHash(contentHash))
	defer u.Stage.CleanupOutput(contentHash)

	u.forwardProcessorLog(contentHash)
	log.WithField("error", utils.Truncate(errText, 500)).Error("job failed")

	// metadata may still be on the input volume when the orchestrator
	// failed before cleanup; without it the try count starts at zero
	meta, err := u.Stage.ReadMeta(contentHash)
	if err != nil {
		meta = stage.JobMeta{ContentHash: contentHash}
	}

	u.markFailed(ctx, contentHash, meta.TryCount)
}

func (u *Uploader) markFailed(ctx context.Context, contentHash string, tryCount int) {
	if err := u.Updater.MarkFailed(ctx, contentHash, tryCount+1); err != nil {
		u.Log.WithField("contentHash", utils.ShortHash(contentHash)).WithError(err).Error("could not mark job failed")
	}
	u.failed++
	u.maybeLogStats()
}

func (u *Uploader) readResult(contentHash string) (*processor.Result, error) {
	content, err := os.ReadFile(u.Stage.ResultPath(contentHash))
	if err != nil {
		return nil, err
	}
	var result processor.Result
	if err := json.Unmarshal(content, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// sanitizeAndUpload re-encodes the thumbnail and uploads it under
// {hash}.png. A sanitization or upload failure downgrades the job to
// text-only instead of failing it.
func (u *Uploader) sanitizeAndUpload(log *logrus.Entry, contentHash string) (string, bool) {
	data, err := os.ReadFile(u.Stage.ThumbnailPath(contentHash))
	if err != nil {
		log.WithError(err).Warn("result references a thumbnail that is not there")
		return "", false
	}

	clean, width, height, err := SanitizeThumbnail(data)
	if err != nil {
		log.WithError(err).Error("thumbnail sanitization failed")
		return "", false
	}
	if !u.standardDimensions(width, height) {
		log.WithFields(logrus.Fields{"width": width, "height": height}).Debug("non-standard thumbnail dimensions")
	}

	key := contentHash + ".png"
	if err := u.Blob.Upload(u.Config.UserConfig.Blob.ThumbnailBucket, key, clean, "image/png"); err != nil {
		log.WithError(err).Error("thumbnail upload failed")
		return "", false
	}
	log.Info("uploaded thumbnail")
	return key, true
}

func (u *Uploader) standardDimensions(width, height int) bool {
	t := u.Config.UserConfig.Thumbnail
	return (width == t.Width && height == t.Height) ||
		(width == t.LargeWidth && height == t.LargeHeight)
}

// forwardProcessorLog replays the sandbox's log lines into our logging
// system, tagged with the hash prefix. The sandbox itself has no network, so
// this is the only way its logs reach the log-shipping endpoint.
func (u *Uploader) forwardProcessorLog(contentHash string) {
	content, err := os.ReadFile(u.Stage.LogPath(contentHash))
	if err != nil {
		return
	}
	defer os.Remove(u.Stage.LogPath(contentHash))

	log := u.Log.WithField("source", "processor").WithField("contentHash", utils.ShortHash(contentHash))
	for _, line := range utils.SplitLines(string(content)) {
		if line != "" {
			log.Info(line)
		}
	}
}

// maybeReclaim periodically moves jobs stuck in indexing back to pending. A
// job sits in indexing with no marker when the fetcher failed its download or
// a mid-pipeline crash ate it; twice the sandbox timeout is long enough that
// no live job can still be inside.
func (u *Uploader) maybeReclaim(ctx context.Context) {
	stuckAge := 2 * u.Config.UserConfig.Sandbox.Timeout
	if time.Since(u.lastReclaim) < u.Config.UserConfig.Sandbox.Timeout {
		return
	}
	u.lastReclaim = time.Now()

	if _, err := u.Updater.ReclaimStuck(ctx, stuckAge); err != nil {
		u.Log.WithError(err).Error("reclaim sweep failed")
	}
}

func (u *Uploader) maybeLogStats() {
	if (u.processed+u.failed)%10 == 0 {
		u.Log.WithFields(logrus.Fields{
			"processed": u.processed,
			"failed":    u.failed,
		}).Info("queue stats")
	}
}
