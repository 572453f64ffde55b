package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
)

// Source kinds accepted in pack files.
const (
	KindScenario = "scenario"
	KindFAQ      = "faq"
	KindQdrant   = "qdrant"
)

// maxPackSize bounds a single pack file.
const maxPackSize = 1 << 20

// Pack is the decoded form of one <tenant>/<source>.toml file.
type Pack struct {
	Kind       string     `toml:"kind"`
	Collection string     `toml:"collection"`
	Keywords   []string   `toml:"keywords"`
	Scenarios  []Scenario `toml:"scenario"`
	FAQs       []FAQ      `toml:"faq"`
}

// DecodePack strictly decodes a pack: unknown keys are an error.
func DecodePack(data []byte) (*Pack, error) {
	var p Pack
	md, err := toml.Decode(string(data), &p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidPack, strings.Join(keys, ", "))
	}
	return &p, nil
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithChromem stores FAQ packs in db using embed.
func WithChromem(db *chromem.DB, embed chromem.EmbeddingFunc) LibraryOption {
	return func(l *Library) {
		l.db = db
		l.embed = embed
	}
}

// WithQdrant enables qdrant packs.
func WithQdrant(client PointQuerier, embedder embeddings.Embedder) LibraryOption {
	return func(l *Library) {
		l.qdrant = client
		l.qdrantEmbedder = embedder
	}
}

// WithPicker sets the scenario response picker.
func WithPicker(p Picker) LibraryOption {
	return func(l *Library) { l.picker = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) LibraryOption {
	return func(l *Library) { l.logger = logger.Named("knowledge") }
}

// Library loads pack files into a cascade registry.
type Library struct {
	dir      string
	registry *cascade.Registry

	db             *chromem.DB
	embed          chromem.EmbeddingFunc
	qdrant         PointQuerier
	qdrantEmbedder embeddings.Embedder
	picker         Picker
	logger         *logging.Logger
}

// NewLibrary reads packs from dir into registry.
func NewLibrary(dir string, registry *cascade.Registry, opts ...LibraryOption) *Library {
	l := &Library{dir: dir, registry: registry, logger: logging.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the knowledge root.
func (l *Library) Dir() string {
	return l.dir
}

// LoadAll loads every pack. A bad pack is logged and skipped so one
// tenant's mistake does not take the others down; the joined errors are
// returned.
func (l *Library) LoadAll(ctx context.Context) error {
	tenants, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("reading knowledge dir: %w", err)
	}
	var errs []error
	loaded := 0
	for _, t := range tenants {
		if !t.IsDir() || strings.HasPrefix(t.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(l.dir, t.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, f := range files {
			sourceID, ok := strings.CutSuffix(f.Name(), ".toml")
			if f.IsDir() || !ok {
				continue
			}
			if err := l.LoadSource(ctx, t.Name(), sourceID); err != nil {
				l.logger.Warn(ctx, "skipping knowledge pack",
					zap.String("tenant_id", t.Name()),
					zap.String("source_id", sourceID),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			loaded++
		}
	}
	l.logger.Info(ctx, "knowledge packs loaded", zap.Int("count", loaded), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// LoadSource (re)loads one pack and registers it. A missing file
// unregisters the source.
func (l *Library) LoadSource(ctx context.Context, tenantID, sourceID string) error {
	if !governance.ValidTenantID(tenantID) {
		return fmt.Errorf("%w: %q", governance.ErrInvalidTenantID, tenantID)
	}
	if !governance.ValidTenantID(sourceID) {
		return fmt.Errorf("%w: invalid source id %q", ErrInvalidPack, sourceID)
	}
	path := filepath.Join(l.dir, tenantID, sourceID+".toml")
	data, err := readPack(path)
	if errors.Is(err, os.ErrNotExist) {
		l.registry.Unregister(tenantID, sourceID)
		l.dropCollection(tenantID, sourceID)
		return nil
	}
	if err != nil {
		return err
	}
	pack, err := DecodePack(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	src, err := l.build(ctx, tenantID, sourceID, pack)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	l.registry.Register(tenantID, sourceID, src)
	return nil
}

func (l *Library) build(ctx context.Context, tenantID, sourceID string, p *Pack) (cascade.Source, error) {
	switch p.Kind {
	case KindScenario:
		return NewScenarioSource(p.Scenarios, l.picker)
	case KindFAQ:
		if l.db == nil {
			return nil, ErrNoEmbedder
		}
		l.dropCollection(tenantID, sourceID)
		src, err := NewChromemSource(l.db, collectionName(tenantID, sourceID), l.embed)
		if err != nil {
			return nil, err
		}
		if err := src.Add(ctx, p.FAQs); err != nil {
			return nil, err
		}
		return src, nil
	case KindQdrant:
		return NewQdrantSource(l.qdrant, l.qdrantEmbedder, p.Collection, tenantID, p.Keywords)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
}

func (l *Library) dropCollection(tenantID, sourceID string) {
	if l.db == nil {
		return
	}
	_ = l.db.DeleteCollection(collectionName(tenantID, sourceID))
}

func collectionName(tenantID, sourceID string) string {
	return tenantID + "__" + sourceID
}

func readPack(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxPackSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidPack, path, maxPackSize)
	}
	return os.ReadFile(path)
}
