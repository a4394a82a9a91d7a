package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golang/snappy"

	"github.com/dd0wney/malaphor/pkg/pipeline"
)

const archiveExt = ".json.sz"

// Archive keeps snappy-compressed JSON reports in a directory, one file per
// run named after its run id.
type Archive struct {
	dir string
}

// NewArchive creates dir if needed.
func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

func validRunID(runID string) bool {
	return runID != "" && !strings.ContainsAny(runID, `/\`) && !strings.Contains(runID, "..")
}

func (a *Archive) path(runID string) string {
	return filepath.Join(a.dir, runID+archiveExt)
}

// Save writes res atomically and returns the file path.
func (a *Archive) Save(_ context.Context, res *pipeline.Result) (string, error) {
	if !validRunID(res.RunID) {
		return "", fmt.Errorf("invalid run id %q", res.RunID)
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, res); err != nil {
		return "", err
	}
	compressed := snappy.Encode(nil, buf.Bytes())

	path := a.path(res.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to commit report: %w", err)
	}
	return path, nil
}

// Load reads the report of runID.
func (a *Archive) Load(runID string) (*pipeline.Result, error) {
	if !validRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	compressed, err := os.ReadFile(a.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress report %s: %w", runID, err)
	}
	return ReadJSON(bytes.NewReader(data))
}

// List returns the archived run ids in lexical order.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), archiveExt); ok && !e.IsDir() {
			ids = append(ids, name)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
