package config

import (
	"fmt"
	"time"
)

// UserConfig holds all of the user-configurable options. The fields here are all in PascalCase but in your actual config.yml they'll be in camelCase. You can view the default config with `previewd --config`. Every field can also be set through the environment variable named in the comment; environment always wins over config.yml because that is how the pipeline is deployed in practice (compose/k8s env blocks).
type UserConfig struct {
	// Queue controls the claim loop shared by the fetcher and uploader
	Queue QueueConfig `yaml:"queue,omitempty"`

	// Sandbox configures the per-job processor container
	Sandbox SandboxConfig `yaml:"sandbox,omitempty"`

	// CAD configures the CAD converter sidecar container
	CAD CADConfig `yaml:"cad,omitempty"`

	// OCR configures the OCR sidecar
	OCR OCRConfig `yaml:"ocr,omitempty"`

	// Thumbnail configures output thumbnail dimensions and cropping
	Thumbnail ThumbnailConfig `yaml:"thumbnail,omitempty"`

	// Text configures text extraction limits
	Text TextConfig `yaml:"text,omitempty"`

	// Blob configures the object store the fetcher downloads from and the uploader uploads to
	Blob BlobConfig `yaml:"blob,omitempty"`

	// DB holds the two capability-restricted DSNs
	DB DBConfig `yaml:"db,omitempty"`

	// Volumes names the docker volumes shared between stages. These are the actual docker volume names, NOT paths inside this container
	Volumes VolumesConfig `yaml:"volumes,omitempty"`

	// Dirs is where those volumes are mounted in THIS process's mount namespace
	Dirs DirsConfig `yaml:"dirs,omitempty"`

	// Logging configures the optional log-shipping endpoint
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// QueueConfig controls the claim loop shared by the fetcher and uploader.
type QueueConfig struct {
	// PollInterval is how long a component sleeps when it finds no work. Env: POLL_INTERVAL (seconds or a Go duration)
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`

	// MaxRetries is how many failures a job is allowed before it is parked in the error state. Env: MAX_RETRIES
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// ReadyBacklogLimit is the fetcher backpressure cap: when this many .ready markers are waiting, the fetcher skips claiming. Env: READY_BACKLOG_LIMIT
	ReadyBacklogLimit int `yaml:"readyBacklogLimit,omitempty"`
}

// SandboxConfig configures the air-gapped processor container spawned per job.
type SandboxConfig struct {
	// Image is the processor container image. Env: PROCESSOR_IMAGE
	Image string `yaml:"image,omitempty"`

	// Runtime is the container runtime name passed to docker: runc, runsc (gVisor) or kata. Kernel isolation is preferred because the payload is attacker-controlled. Env: PROCESSOR_RUNTIME
	Runtime string `yaml:"runtime,omitempty"`

	// Timeout is how long the orchestrator waits before killing the container. Env: PROCESSOR_TIMEOUT
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Memory is the container memory cap, in docker notation e.g. "2g". Env: PROCESSOR_MEMORY
	Memory string `yaml:"memory,omitempty"`

	// CPUs is the CPU cap. Env: PROCESSOR_CPUS
	CPUs float64 `yaml:"cpus,omitempty"`

	// PidsLimit caps the number of processes inside the sandbox
	PidsLimit int64 `yaml:"pidsLimit,omitempty"`

	// TmpfsSize is the size of the scratch tmpfs mounted at /tmp, e.g. "512m"
	TmpfsSize string `yaml:"tmpfsSize,omitempty"`

	// HelperImage is the minimal image used for copying files between volumes
	HelperImage string `yaml:"helperImage,omitempty"`
}

// CADConfig configures the CAD converter sidecar.
type CADConfig struct {
	// Image is the CAD sidecar image. Env: CAD_IMAGE
	Image string `yaml:"image,omitempty"`

	// Timeout is the per-request conversion timeout enforced by the caller. Env: CAD_TIMEOUT
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Ephemeral spawns one sidecar per dwg/dxf job instead of a persistent one. Env: CAD_EPHEMERAL
	Ephemeral bool `yaml:"ephemeral,omitempty"`

	// Memory is the sidecar memory cap
	Memory string `yaml:"memory,omitempty"`

	// PidsLimit caps the number of processes inside the sidecar
	PidsLimit int64 `yaml:"pidsLimit,omitempty"`

	// TmpfsSize is the size of the sidecar scratch tmpfs
	TmpfsSize string `yaml:"tmpfsSize,omitempty"`

	// ConverterPath is the dwg2pdf binary inside the sidecar image
	ConverterPath string `yaml:"converterPath,omitempty"`
}

// OCRConfig configures the OCR sidecar and its clients.
type OCRConfig struct {
	// WordlistPath is the wordlist used for the quality score. Env: OCR_WORDLIST_PATH
	WordlistPath string `yaml:"wordlistPath,omitempty"`

	// Languages is the tesseract language set, e.g. "deu+eng". Env: OCR_LANGUAGES
	Languages string `yaml:"languages,omitempty"`

	// RequestTimeout is the caller-enforced per-request timeout
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`

	// ExchangePoll is how often the sidecar scans its exchange directory
	ExchangePoll time.Duration `yaml:"exchangePoll,omitempty"`
}

// ThumbnailConfig configures thumbnail dimensions and cropping.
type ThumbnailConfig struct {
	// Width and Height are used for extensions in SmallExtensions. Env: THUMBNAIL_WIDTH / THUMBNAIL_HEIGHT
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`

	// LargeWidth and LargeHeight are used for everything else. Env: THUMBNAIL_LARGE_WIDTH / THUMBNAIL_LARGE_HEIGHT
	LargeWidth  int `yaml:"largeWidth,omitempty"`
	LargeHeight int `yaml:"largeHeight,omitempty"`

	// SmallExtensions is the set of extensions (without dot) that get the small dimensions. Env: THUMBNAIL_SMALL_EXTENSIONS (comma separated)
	SmallExtensions []string `yaml:"smallExtensions,omitempty"`

	// CropPosition is the vertical anchor when cropping height: "top" or "center". Env: THUMBNAIL_CROP_POSITION
	CropPosition string `yaml:"cropPosition,omitempty"`

	// DWGIntermediateDPI is the rasterization dpi for CAD-derived PDFs. Env: DWG_INTERMEDIATE_DPI
	DWGIntermediateDPI int `yaml:"dwgIntermediateDpi,omitempty"`

	// DWGWhiteThreshold: a grayscale pixel below this value counts as drawing content. Env: DWG_WHITE_THRESHOLD
	DWGWhiteThreshold int `yaml:"dwgWhiteThreshold,omitempty"`
}

// TextConfig configures text extraction limits.
type TextConfig struct {
	// MaxLength is the cap on extracted text, in bytes. Env: MAX_TEXT_LENGTH
	MaxLength int `yaml:"maxLength,omitempty"`

	// FallbackMaxSize is the largest unknown-format file the text fallback will look at. Env: TEXT_FALLBACK_MAX_SIZE
	FallbackMaxSize int64 `yaml:"fallbackMaxSize,omitempty"`

	// FallbackMinPrintable is the minimum printable-character ratio for the fallback to accept a file as text. Env: TEXT_FALLBACK_MIN_PRINTABLE
	FallbackMinPrintable float64 `yaml:"fallbackMinPrintable,omitempty"`
}

// BlobConfig configures the object store.
type BlobConfig struct {
	// Endpoint is the blob store base URL. Env: BLOB_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Token is the bearer token for the blob store. Env: BLOB_TOKEN
	Token string `yaml:"token,omitempty"`

	// StorageBucket is the bucket the fetcher downloads source files from. Env: STORAGE_BUCKET
	StorageBucket string `yaml:"storageBucket,omitempty"`

	// ThumbnailBucket is the bucket the uploader writes thumbnails to. Env: THUMBNAIL_BUCKET
	ThumbnailBucket string `yaml:"thumbnailBucket,omitempty"`
}

// DBConfig holds the two capability-restricted DSNs. The fetcher role can only
// execute claim_pending_file_content; the uploader role can only update the
// result columns of file_contents.
type DBConfig struct {
	// FetcherDSN: postgres DSN for the claim-only role. Env: FETCHER_DB_DSN
	FetcherDSN string `yaml:"fetcherDsn,omitempty"`

	// UploaderDSN: postgres DSN for the update-only role. Env: UPLOADER_DB_DSN
	UploaderDSN string `yaml:"uploaderDsn,omitempty"`
}

// VolumesConfig names the docker volumes shared between stages.
type VolumesConfig struct {
	Input       string `yaml:"input,omitempty"`
	Output      string `yaml:"output,omitempty"`
	Status      string `yaml:"status,omitempty"`
	CADExchange string `yaml:"cadExchange,omitempty"`
	OCRExchange string `yaml:"ocrExchange,omitempty"`
}

// DirsConfig is where the shared volumes are mounted in this process.
type DirsConfig struct {
	Input       string `yaml:"input,omitempty"`
	Output      string `yaml:"output,omitempty"`
	Status      string `yaml:"status,omitempty"`
	Work        string `yaml:"work,omitempty"`
	CADExchange string `yaml:"cadExchange,omitempty"`
	OCRExchange string `yaml:"ocrExchange,omitempty"`
}

// LoggingConfig configures the optional log shipping hook.
type LoggingConfig struct {
	// ShipEndpoint is the HTTPS ingest endpoint log entries are POSTed to. Empty disables shipping. Env: LOG_SHIP_ENDPOINT
	ShipEndpoint string `yaml:"shipEndpoint,omitempty"`

	// ShipToken is the bearer token for the ingest endpoint. Env: LOG_SHIP_TOKEN
	ShipToken string `yaml:"shipToken,omitempty"`
}

// GetDefaultConfig returns the application default configuration
// NOTE (to contributors, not users): do not default a boolean to false when the
// deployed default should be true, because false is the boolean zero value and
// an omitted yaml key would silently flip it
func GetDefaultConfig() UserConfig {
	return UserConfig{
		Queue: QueueConfig{
			PollInterval:      5 * time.Second,
			MaxRetries:        3,
			ReadyBacklogLimit: 10,
		},
		Sandbox: SandboxConfig{
			Image:       "previewd-processor:latest",
			Runtime:     "runsc",
			Timeout:     600 * time.Second,
			Memory:      "2g",
			CPUs:        2,
			PidsLimit:   200,
			TmpfsSize:   "512m",
			HelperImage: "alpine",
		},
		CAD: CADConfig{
			Image:         "previewd-cad:latest",
			Timeout:       300 * time.Second,
			Ephemeral:     true,
			Memory:        "1g",
			PidsLimit:     100,
			TmpfsSize:     "256m",
			ConverterPath: "/exec/qcad/dwg2pdf",
		},
		OCR: OCRConfig{
			WordlistPath:   "/app/wordlists/combined.txt",
			Languages:      "deu+eng",
			RequestTimeout: 300 * time.Second,
			ExchangePoll:   500 * time.Millisecond,
		},
		Thumbnail: ThumbnailConfig{
			Width:              400,
			Height:             300,
			LargeWidth:         800,
			LargeHeight:        600,
			SmallExtensions:    []string{"pdf", "png", "jpg", "jpeg", "heic", "heif", "gif", "svg"},
			CropPosition:       "top",
			DWGIntermediateDPI: 600,
			DWGWhiteThreshold:  250,
		},
		Text: TextConfig{
			MaxLength:            51200,
			FallbackMaxSize:      204800,
			FallbackMinPrintable: 0.99,
		},
		Blob: BlobConfig{
			StorageBucket:   "files",
			ThumbnailBucket: "thumbnails",
		},
		Volumes: VolumesConfig{
			Input:       "previewd-queue-input",
			Output:      "previewd-queue-output",
			Status:      "previewd-queue-status",
			CADExchange: "previewd-cad-exchange",
			OCRExchange: "previewd-ocr-exchange",
		},
		Dirs: DirsConfig{
			Input:       "/queue/input",
			Output:      "/queue/output",
			Status:      "/queue/status",
			Work:        "/work",
			CADExchange: "/cad-exchange",
			OCRExchange: "/ocr-exchange",
		},
	}
}

// SmallThumbnail reports whether ext (with or without leading dot) should use
// the small thumbnail dimensions.
func (t ThumbnailConfig) SmallThumbnail(ext string) bool {
	ext = normalizeExt(ext)
	for _, e := range t.SmallExtensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

// Dimensions returns the target thumbnail size for a filename extension.
func (t ThumbnailConfig) Dimensions(ext string) (int, int) {
	if t.SmallThumbnail(ext) {
		return t.Width, t.Height
	}
	return t.LargeWidth, t.LargeHeight
}

func normalizeExt(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}

// Validate checks that the options the given role cannot run without are set.
// Called once at startup; a failure here is the only fatal config path.
func (c *UserConfig) Validate(role string) error {
	var missing []string

	need := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch role {
	case "fetcher":
		need("FETCHER_DB_DSN", c.DB.FetcherDSN)
		need("BLOB_ENDPOINT", c.Blob.Endpoint)
	case "uploader":
		need("UPLOADER_DB_DSN", c.DB.UploaderDSN)
		need("BLOB_ENDPOINT", c.Blob.Endpoint)
	case "orchestrator":
		need("PROCESSOR_IMAGE", c.Sandbox.Image)
	}

	if c.Thumbnail.CropPosition != "top" && c.Thumbnail.CropPosition != "center" {
		return fmt.Errorf("thumbnail crop position must be \"top\" or \"center\", got %q", c.Thumbnail.CropPosition)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}
