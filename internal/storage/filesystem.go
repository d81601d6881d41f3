package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	artifactPrefix   = "archivision"
	fallbackRoomSlug = "room"
	maxNameAttempts  = 1000
)

// FileStore writes selected designs onto the local filesystem. Files are
// created exclusively; an existing file is never overwritten.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// WriteNew persists data under key. When key is taken, "-2", "-3", ... is
// inserted before the extension until a free name is found. The returned key
// is the one actually written.
func (s *FileStore) WriteNew(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, filepath.FromSlash(path.Dir(cleanKey)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	ext := path.Ext(cleanKey)
	stem := strings.TrimSuffix(cleanKey, ext)
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		candidate := cleanKey
		if attempt > 1 {
			candidate = fmt.Sprintf("%s-%d%s", stem, attempt, ext)
		}
		written, err := s.create(candidate, data)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return written, nil
	}
	return "", fmt.Errorf("storage: no free name for %q", cleanKey)
}

func (s *FileStore) create(key string, data []byte) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", err
		}
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(fullPath)
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	return key, nil
}

// ArtifactName derives the download and storage name of a selected image:
// archivision_<room type>_<1-based position>.png.
func ArtifactName(roomType string, index int) string {
	return fmt.Sprintf("%s_%s_%d.png", artifactPrefix, slug(roomType), index+1)
}

var lower = cases.Lower(language.Und)

func slug(s string) string {
	s = lower.String(strings.TrimSpace(s))
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return fallbackRoomSlug
	}
	return out
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
