// Package reference loads the controlled entity list and metric vocabulary.
package reference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// FileSource reads a YAML reference file on every Load.
type FileSource struct {
	path string
	mu   sync.Mutex
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(ctx context.Context) (domain.ReferenceData, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReferenceData{}, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return domain.ReferenceData{}, fmt.Errorf("read reference file: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

// SaveEntities rewrites the entity list of the reference file and keeps its
// metrics. The new file replaces the old one with a rename.
func (s *FileSource) SaveEntities(ctx context.Context, entities []domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.Load(ctx)
	if err != nil {
		return err
	}
	data.Entities = entities
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode reference file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".reference-*.yaml")
	if err != nil {
		return fmt.Errorf("create reference file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write reference file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close reference file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace reference file: %w", err)
	}
	return nil
}

// Decode parses and checks a reference document. Tree validation of the
// entities is left to the entity resolver.
func Decode(r io.Reader) (domain.ReferenceData, error) {
	var data domain.ReferenceData
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ReferenceData{}, domain.WrapError(domain.ErrInvalidReference, "decode reference", errors.New("empty document"))
		}
		return domain.ReferenceData{}, domain.WrapError(domain.ErrInvalidReference, "decode reference", err)
	}
	if len(data.Entities) == 0 {
		return domain.ReferenceData{}, domain.WrapError(domain.ErrInvalidReference, "decode reference", errors.New("no entities"))
	}

	seen := make(map[string]struct{}, len(data.Metrics))
	for i, m := range data.Metrics {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return domain.ReferenceData{}, domain.WrapError(domain.ErrInvalidReference, "decode reference", fmt.Errorf("metric %d has no name", i))
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return domain.ReferenceData{}, domain.WrapError(domain.ErrInvalidReference, "decode reference", fmt.Errorf("duplicate metric %q", name))
		}
		seen[key] = struct{}{}
		data.Metrics[i].Name = name
		if m.Kind == "" {
			data.Metrics[i].Kind = domain.MetricOther
		}
	}
	return data, nil
}
