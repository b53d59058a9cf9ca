// Package content loads exam templates from YAML files.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examcore/internal/model"
)

// ErrTemplateNotFound is returned for unknown template refs.
var ErrTemplateNotFound = errors.New("exam template not found")

// Repository resolves exam templates by ref.
type Repository interface {
	Template(ctx context.Context, ref string) (*model.ExamTemplate, error)
}

// Decode reads and validates one YAML template.
func Decode(r io.Reader) (*model.ExamTemplate, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t model.ExamTemplate
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Dir serves templates stored as <ref>.yaml under a root directory.
// Templates are cached after the first load.
type Dir struct {
	root string
	log  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*model.ExamTemplate
}

// NewDir returns a repository rooted at root.
func NewDir(root string, log *slog.Logger) *Dir {
	if log == nil {
		log = slog.Default()
	}
	return &Dir{root: root, log: log, cache: make(map[string]*model.ExamTemplate)}
}

// Template returns the template with the given ref.
func (d *Dir) Template(_ context.Context, ref string) (*model.ExamTemplate, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return nil, fmt.Errorf("%w: invalid ref %q", ErrTemplateNotFound, ref)
	}

	d.mu.RLock()
	t, ok := d.cache[ref]
	d.mu.RUnlock()
	if ok {
		return t, nil
	}

	f, err := os.Open(filepath.Join(d.root, ref+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("open template %s: %w", ref, err)
	}
	defer f.Close()

	t, err = Decode(f)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", ref, err)
	}
	if t.Ref != ref {
		return nil, fmt.Errorf("template file %s.yaml declares ref %q", ref, t.Ref)
	}

	d.mu.Lock()
	d.cache[ref] = t
	d.mu.Unlock()
	return t, nil
}

// Preload loads and validates every template under the root, returning
// the number loaded. Invalid files are reported and skipped.
func (d *Dir) Preload(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, "*.yaml"))
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	n := 0
	for _, m := range matches {
		ref := strings.TrimSuffix(filepath.Base(m), ".yaml")
		if _, err := d.Template(ctx, ref); err != nil {
			d.log.Warn("skipping template", "file", m, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Static is an in-memory repository keyed by ref.
type Static map[string]*model.ExamTemplate

// Template returns the template with the given ref.
func (s Static) Template(_ context.Context, ref string) (*model.ExamTemplate, error) {
	t, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, ref)
	}
	return t, nil
}
