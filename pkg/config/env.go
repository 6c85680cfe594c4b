package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overlays environment variables onto the config. The env
// names match what the original deployment manifests use, so a config.yml is
// never required.
func ApplyEnvOverrides(c *UserConfig) {
	envDuration("POLL_INTERVAL", &c.Queue.PollInterval)
	envInt("MAX_RETRIES", &c.Queue.MaxRetries)
	envInt("READY_BACKLOG_LIMIT", &c.Queue.ReadyBacklogLimit)

	envString("PROCESSOR_IMAGE", &c.Sandbox.Image)
	envString("PROCESSOR_RUNTIME", &c.Sandbox.Runtime)
	envDuration("PROCESSOR_TIMEOUT", &c.Sandbox.Timeout)
	envString("PROCESSOR_MEMORY", &c.Sandbox.Memory)
	envFloat("PROCESSOR_CPUS", &c.Sandbox.CPUs)
	envString("PROCESSOR_HELPER_IMAGE", &c.Sandbox.HelperImage)

	envString("CAD_IMAGE", &c.CAD.Image)
	envDuration("CAD_TIMEOUT", &c.CAD.Timeout)
	envBool("CAD_EPHEMERAL", &c.CAD.Ephemeral)
	envString("CAD_CONVERTER_PATH", &c.CAD.ConverterPath)

	envString("OCR_WORDLIST_PATH", &c.OCR.WordlistPath)
	envString("OCR_LANGUAGES", &c.OCR.Languages)
	envDuration("OCR_TIMEOUT", &c.OCR.RequestTimeout)

	envInt("THUMBNAIL_WIDTH", &c.Thumbnail.Width)
	envInt("THUMBNAIL_HEIGHT", &c.Thumbnail.Height)
	envInt("THUMBNAIL_LARGE_WIDTH", &c.Thumbnail.LargeWidth)
	envInt("THUMBNAIL_LARGE_HEIGHT", &c.Thumbnail.LargeHeight)
	envStringSlice("THUMBNAIL_SMALL_EXTENSIONS", &c.Thumbnail.SmallExtensions)
	envString("THUMBNAIL_CROP_POSITION", &c.Thumbnail.CropPosition)
	envInt("DWG_INTERMEDIATE_DPI", &c.Thumbnail.DWGIntermediateDPI)
	envInt("DWG_WHITE_THRESHOLD", &c.Thumbnail.DWGWhiteThreshold)

	envInt("MAX_TEXT_LENGTH", &c.Text.MaxLength)
	envInt64("TEXT_FALLBACK_MAX_SIZE", &c.Text.FallbackMaxSize)
	envFloat("TEXT_FALLBACK_MIN_PRINTABLE", &c.Text.FallbackMinPrintable)

	envString("BLOB_ENDPOINT", &c.Blob.Endpoint)
	envString("BLOB_TOKEN", &c.Blob.Token)
	envString("STORAGE_BUCKET", &c.Blob.StorageBucket)
	envString("THUMBNAIL_BUCKET", &c.Blob.ThumbnailBucket)

	envString("FETCHER_DB_DSN", &c.DB.FetcherDSN)
	envString("UPLOADER_DB_DSN", &c.DB.UploaderDSN)

	envString("INPUT_VOLUME", &c.Volumes.Input)
	envString("OUTPUT_VOLUME", &c.Volumes.Output)
	envString("STATUS_VOLUME", &c.Volumes.Status)
	envString("CAD_EXCHANGE_VOLUME", &c.Volumes.CADExchange)
	envString("OCR_EXCHANGE_VOLUME", &c.Volumes.OCRExchange)

	envString("LOG_SHIP_ENDPOINT", &c.Logging.ShipEndpoint)
	envString("LOG_SHIP_TOKEN", &c.Logging.ShipToken)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// envDuration accepts both a Go duration ("5s", "10m") and a bare number of
// seconds ("5"), which is what the original deployment used.
func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func envStringSlice(name string, dst *[]string) {
	if v := os.Getenv(name); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, strings.ToLower(trimmed))
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
