package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/slug"
	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
)

const (
	outputsDir    = "outputs"
	narrativeFile = "story.md"
	audioFile     = "story.mp3"

	dirPerm  = 0o755
	filePerm = 0o644
)

// ErrNotFound is returned when a persisted artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store persists narratives and audio under <base>/outputs/<slug>/.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir. An empty baseDir means the working directory.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		baseDir = "."
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storyerr.New(storyerr.KindPersistence, "resolve output dir", err)
	}
	return &Store{baseDir: abs}, nil
}

// BaseDir returns the absolute root of the store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Bundle returns the artifact paths for slug without touching the filesystem.
func (s *Store) Bundle(storySlug string) models.OutputBundle {
	dir := filepath.Join(s.baseDir, outputsDir, storySlug)
	return models.OutputBundle{
		Dir:           dir,
		NarrativePath: filepath.Join(dir, narrativeFile),
		AudioPath:     filepath.Join(dir, audioFile),
	}
}

// Prepare creates the output directory for slug. Calling it again is harmless.
func (s *Store) Prepare(storySlug string) (models.OutputBundle, error) {
	bundle := s.Bundle(storySlug)
	if err := os.MkdirAll(bundle.Dir, dirPerm); err != nil {
		return models.OutputBundle{}, storyerr.New(storyerr.KindPersistence, "prepare output dir", err)
	}
	return bundle, nil
}

// WriteNarrative writes the narrative as UTF-8 text, replacing any previous file.
func (s *Store) WriteNarrative(bundle models.OutputBundle, narrative string) error {
	if err := os.WriteFile(bundle.NarrativePath, []byte(narrative), filePerm); err != nil {
		return storyerr.New(storyerr.KindPersistence, "write narrative", err)
	}
	log.Debug().Str("path", bundle.NarrativePath).Int("bytes", len(narrative)).Msg("Narrative saved")
	return nil
}

// WriteAudio writes the audio bytes verbatim, replacing any previous file.
func (s *Store) WriteAudio(bundle models.OutputBundle, audio []byte) error {
	if err := os.WriteFile(bundle.AudioPath, audio, filePerm); err != nil {
		return storyerr.New(storyerr.KindPersistence, "write audio", err)
	}
	log.Debug().Str("path", bundle.AudioPath).Int("bytes", len(audio)).Msg("Audio saved")
	return nil
}

// Persist prepares the directory for slug and writes both artifacts.
func (s *Store) Persist(storySlug, narrative string, audio []byte) (models.OutputBundle, error) {
	bundle, err := s.Prepare(storySlug)
	if err != nil {
		return models.OutputBundle{}, err
	}
	if err := s.WriteNarrative(bundle, narrative); err != nil {
		return models.OutputBundle{}, err
	}
	if err := s.WriteAudio(bundle, audio); err != nil {
		return models.OutputBundle{}, err
	}
	return bundle, nil
}

// ReadNarrative loads a previously persisted narrative.
// The slug is re-normalised so callers cannot escape the outputs directory.
func (s *Store) ReadNarrative(storySlug string) (string, error) {
	if storySlug != slug.Slugify(storySlug) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, storySlug)
	}

	data, err := os.ReadFile(s.Bundle(storySlug).NarrativePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, storySlug)
	}
	if err != nil {
		return "", storyerr.New(storyerr.KindPersistence, "read narrative", err)
	}
	return string(data), nil
}
