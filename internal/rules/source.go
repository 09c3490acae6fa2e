package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrSourceMissing is returned by a Source whose backing data does not exist
var ErrSourceMissing = errors.New("rule source not found")

// Source supplies raw rule documents to an Engine
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads rules from a YAML file on disk
type FileSource struct {
	Path string
}

// NewFileSource creates a source backed by a file
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string {
	return s.Path
}

func (s *FileSource) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, s.Path)
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return data, nil
}

// BytesSource serves an in-memory rule document
type BytesSource struct {
	Label string
	Data  []byte
}

func (s *BytesSource) Name() string {
	if s.Label == "" {
		return "inline"
	}
	return s.Label
}

func (s *BytesSource) Read(ctx context.Context) ([]byte, error) {
	return s.Data, nil
}
