package stage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// JobMeta is the metadata blob that travels with a job across the stage
// volumes as {hash}.json, and again inside the .done marker.
type JobMeta struct {
	ContentHash       string `json:"content_hash"`
	StoragePath       string `json:"storage_path"`
	OriginalFilename  string `json:"original_filename"`
	OriginalExtension string `json:"original_extension"`
	TryCount          int    `json:"try_count"`
}

// Stage is one process's view of the shared queue volumes. Every cross-stage
// handoff goes through these directories; the marker file (.ready, .done,
// .failed) is always the last write of the producer and the first read of the
// consumer, which is the only ordering guarantee the pipeline relies on.
type Stage struct {
	InputDir  string
	OutputDir string
	StatusDir string
}

func New(inputDir, outputDir, statusDir string) *Stage {
	return &Stage{
		InputDir:  inputDir,
		OutputDir: outputDir,
		StatusDir: statusDir,
	}
}

// EnsureDirs creates the stage directories this process writes to.
func (s *Stage) EnsureDirs() error {
	for _, dir := range []string{s.InputDir, s.OutputDir, s.StatusDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// WriteInput streams the raw file into {hash}.bin, writes {hash}.json and
// finally touches {hash}.ready. The .ready marker is the atomicity boundary:
// the orchestrator may not look at .bin or .json before it exists.
func (s *Stage) WriteInput(meta JobMeta, r io.Reader) error {
	binPath := filepath.Join(s.InputDir, meta.ContentHash+".bin")
	f, err := os.Create(binPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(binPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(binPath)
		return err
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.InputDir, meta.ContentHash+".json"), metaBytes, 0o644); err != nil {
		return err
	}

	return touch(filepath.Join(s.StatusDir, meta.ContentHash+".ready"))
}

// ReadMeta reads {hash}.json from the input volume.
func (s *Stage) ReadMeta(hash string) (JobMeta, error) {
	var meta JobMeta
	content, err := os.ReadFile(filepath.Join(s.InputDir, hash+".json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(content, &meta); err != nil {
		return meta, fmt.Errorf("corrupt job metadata for %s: %w", hash, err)
	}
	return meta, nil
}

// InputBinPath returns the path of the raw input bytes for a job.
func (s *Stage) InputBinPath(hash string) string {
	return filepath.Join(s.InputDir, hash+".bin")
}

// ListReady returns the content hashes with a .ready marker, in
// directory-listing order.
func (s *Stage) ListReady() []string {
	return s.listMarkers(".ready")
}

// CountReady is the fetcher's backpressure signal.
func (s *Stage) CountReady() int {
	return len(s.ListReady())
}

// ListDone returns hashes with a .done marker.
func (s *Stage) ListDone() []string {
	return s.listMarkers(".done")
}

// ListFailed returns hashes with a .failed marker.
func (s *Stage) ListFailed() []string {
	return s.listMarkers(".failed")
}

func (s *Stage) listMarkers(suffix string) []string {
	entries, err := os.ReadDir(s.StatusDir)
	if err != nil {
		return nil
	}
	var hashes []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, suffix) {
			hashes = append(hashes, strings.TrimSuffix(name, suffix))
		}
	}
	return hashes
}

// MarkDone writes the .done marker containing the job metadata. Written by the
// orchestrator after the output files are fully copied out.
func (s *Stage) MarkDone(meta JobMeta) error {
	content, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.StatusDir, meta.ContentHash+".done"), content, 0o644)
}

// MarkFailed writes the .failed marker containing the error text.
func (s *Stage) MarkFailed(hash string, errText string) error {
	return os.WriteFile(filepath.Join(s.StatusDir, hash+".failed"), []byte(errText), 0o644)
}

// ConsumeDone reads and removes the .done marker. The uploader removes the
// marker before processing so a crash cannot double-upload.
func (s *Stage) ConsumeDone(hash string) (JobMeta, error) {
	var meta JobMeta
	path := filepath.Join(s.StatusDir, hash+".done")
	content, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	os.Remove(path)
	if err := json.Unmarshal(content, &meta); err != nil {
		return meta, fmt.Errorf("corrupt done marker for %s: %w", hash, err)
	}
	return meta, nil
}

// ConsumeFailed reads and removes the .failed marker, returning its error text.
func (s *Stage) ConsumeFailed(hash string) (string, error) {
	path := filepath.Join(s.StatusDir, hash+".failed")
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	os.Remove(path)
	return string(content), nil
}

// RemoveInput removes the input files and the .ready marker for a job. Called
// by the orchestrator on every exit path.
func (s *Stage) RemoveInput(hash string) {
	os.Remove(filepath.Join(s.StatusDir, hash+".ready"))
	os.Remove(filepath.Join(s.InputDir, hash+".bin"))
	os.Remove(filepath.Join(s.InputDir, hash+".json"))
}

// CleanupOutput removes every {hash}.* file from the output volume. After the
// uploader has handled a job nothing of it may remain there.
func (s *Stage) CleanupOutput(hash string) {
	matches, err := filepath.Glob(filepath.Join(s.OutputDir, hash+".*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		os.Remove(match)
	}
}

// ResultPath is where the orchestrator places the processor's result.json.
func (s *Stage) ResultPath(hash string) string {
	return filepath.Join(s.OutputDir, hash+".result.json")
}

// ThumbnailPath is where the orchestrator places the processor's thumbnail.
func (s *Stage) ThumbnailPath(hash string) string {
	return filepath.Join(s.OutputDir, hash+".thumbnail.png")
}

// LogPath is where the orchestrator places the processor's log for forwarding.
func (s *Stage) LogPath(hash string) string {
	return filepath.Join(s.OutputDir, hash+".log")
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
