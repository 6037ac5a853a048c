package voyager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

// artifactWriter persists per-iteration debug snapshots under a directory
// keyed by the task's start URL. All writes are best-effort; a failing write
// is logged and never affects the task loop.
type artifactWriter struct {
	dir    string
	logger *zap.Logger
}

// newArtifactWriter prepares the per-task artifact directory. A nil writer is
// returned (and safe to use) when artifacts are disabled or the directory
// cannot be created.
func newArtifactWriter(baseDir, startURL string, logger *zap.Logger) *artifactWriter {
	if baseDir == "" {
		return nil
	}

	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", sanitizeURL(startURL), time.Now().Format("20060102T150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Failed to create artifact directory, disabling artifacts.",
			zap.String("dir", dir), zap.Error(err))
		return nil
	}
	return &artifactWriter{dir: dir, logger: logger}
}

// Capture writes the iteration's screenshot and decision snapshot as
// image_<n>.png and message_<n>.json.
func (w *artifactWriter) Capture(iteration int, screenshot []byte, decision *schemas.Decision) {
	if w == nil {
		return
	}

	if len(screenshot) > 0 {
		path := filepath.Join(w.dir, fmt.Sprintf("image_%d.png", iteration))
		if err := os.WriteFile(path, screenshot, 0o644); err != nil {
			w.logger.Warn("Failed to write screenshot artifact.", zap.String("path", path), zap.Error(err))
		}
	}

	if decision != nil {
		snapshot := struct {
			Iteration int              `json:"iteration"`
			Raw       string           `json:"raw"`
			Actions   []schemas.Action `json:"actions"`
		}{iteration, decision.Raw, decision.Actions}

		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			w.logger.Warn("Failed to encode decision artifact.", zap.Error(err))
			return
		}
		path := filepath.Join(w.dir, fmt.Sprintf("message_%d.json", iteration))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			w.logger.Warn("Failed to write decision artifact.", zap.String("path", path), zap.Error(err))
		}
	}
}

// sanitizeURL reduces a start URL to a filesystem-safe directory key.
func sanitizeURL(rawURL string) string {
	s := rawURL
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "task"
	}
	return s
}
