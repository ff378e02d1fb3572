// Package validation provides input validation shared by the ingestion and
// retrieval pipelines: filesystem path checks, UUID checks, and a
// sliding-window rate limiter for the service boundary.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
)

// uuidPattern matches RFC 4122 UUIDs, versions 1-5.
var uuidPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidateUUID checks that id is a well-formed RFC 4122 UUID (v1-v5).
func ValidateUUID(id string) error {
	if !uuidPattern.MatchString(strings.ToLower(id)) {
		return errors.Validation(fmt.Sprintf("invalid document id: %q", id))
	}
	return nil
}

// ValidatePath canonicalizes path and rejects traversal attempts.
// Rules: no null bytes, must resolve to an absolute path, and normalizing
// must not change the cleaned path (catches embedded ".." segments). When
// allowedDirs is non-empty the resolved path must live under one of them.
// Returns the canonical absolute path.
func ValidatePath(path string, allowedDirs []string) (string, error) {
	if path == "" {
		return "", errors.Validation("path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", errors.Validation("path contains null byte")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Validation(fmt.Sprintf("cannot resolve path: %v", err))
	}

	cleaned := filepath.Clean(abs)
	if strings.Contains(cleaned, "..") {
		return "", errors.Validation("path traversal detected")
	}

	if len(allowedDirs) > 0 {
		allowed := false
		for _, dir := range allowedDirs {
			base, err := filepath.Abs(dir)
			if err != nil {
				continue
			}
			rel, err := filepath.Rel(base, cleaned)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", errors.Validation("path is outside allowed directories")
		}
	}

	return cleaned, nil
}
