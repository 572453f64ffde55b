package governance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigSize = 256 * 1024

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidTenantID reports whether id is safe to use as a file name and
// subject token.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// Provider resolves a tenant's governance configuration.
type Provider interface {
	Load(ctx context.Context, tenantID string) (*Config, error)
}

// FileProvider reads <Dir>/<tenant>.yaml.
type FileProvider struct {
	Dir string
}

// NewFileProvider returns a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// Load reads and strictly decodes the tenant's file.
func (p *FileProvider) Load(ctx context.Context, tenantID string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidTenantID(tenantID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}

	path := filepath.Join(p.Dir, tenantID+".yaml")
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrInvalidConfig, path, info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	if cfg.TenantID != tenantID {
		return nil, fmt.Errorf("%w: file declares %q, requested %q", ErrTenantMismatch, cfg.TenantID, tenantID)
	}
	return cfg, nil
}

// Parse strictly decodes a YAML governance document over Default and
// validates the result.
//
// Unknown keys anywhere in the document are fatal. tenant_id, version and,
// for each source, source_id, priority and confidence_threshold are
// required. Everything else is optional and keeps its default; a source's
// enabled flag defaults to true.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for _, key := range []string{"tenant_id", "version"} {
		if !k.Exists(key) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, key)
		}
	}
	if err := normalizeSources(k); err != nil {
		return nil, err
	}

	cfg := Default()
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			ErrorUnused:      true,
			ZeroFields:       true,
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "has invalid keys") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeSources enforces required per-source keys and defaults enabled.
func normalizeSources(k *koanf.Koanf) error {
	if !k.Exists("sources") {
		return nil
	}
	raw, ok := k.Get("sources").([]interface{})
	if !ok {
		return fmt.Errorf("%w: sources must be a list", ErrInvalidConfig)
	}
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: sources[%d] must be a mapping", ErrInvalidConfig, i)
		}
		for _, req := range []string{"source_id", "priority", "confidence_threshold"} {
			if _, set := m[req]; !set {
				return fmt.Errorf("%w: sources[%d].%s", ErrMissingRequired, i, req)
			}
		}
		if _, set := m["enabled"]; !set {
			m["enabled"] = true
		}
	}
	return k.Set("sources", raw)
}
