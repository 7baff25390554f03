package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/feature"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/pelletier/go-toml/v2"
)

const (
	// OfficialAllowedServerID is used whenever the allow-list is empty.
	OfficialAllowedServerID = "cosmicprisons.com"
	DefaultFileName         = "companion.toml"
)

var ErrInvalidConfig = errors.New("config: invalid companion config")

// Companion is the user-editable client configuration.
type Companion struct {
	AllowedServerIDs              []string        `toml:"allowed_server_ids"`
	EnablePayloadCodecFallback    bool            `toml:"enable_payload_codec_fallback"`
	FeatureToggles                map[string]bool `toml:"feature_toggles"`
	ServerSignaturePolicy         auth.Policy     `toml:"server_signature_policy"`
	ServerSignaturePublicKeys     []string        `toml:"server_signature_public_keys"`
	LogMalformedOncePerConnection bool            `toml:"log_malformed_once_per_connection"`
}

func Defaults() Companion {
	return Companion{
		AllowedServerIDs:              []string{OfficialAllowedServerID},
		FeatureToggles:                map[string]bool{},
		ServerSignaturePolicy:         auth.PolicyLogOnly,
		ServerSignaturePublicKeys:     []string{},
		LogMalformedOncePerConnection: true,
	}
}

// Sanitize normalises c in place. It never fails: blank or unknown policies
// become LOG_ONLY, blank and duplicate entries are dropped, and an empty
// allow-list falls back to the official server.
func (c *Companion) Sanitize() {
	c.AllowedServerIDs = cleanList(c.AllowedServerIDs, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
	if len(c.AllowedServerIDs) == 0 {
		c.AllowedServerIDs = []string{OfficialAllowedServerID}
	}
	c.ServerSignaturePolicy = auth.NormalizePolicy(c.ServerSignaturePolicy)
	c.ServerSignaturePublicKeys = cleanList(c.ServerSignaturePublicKeys, strings.TrimSpace)

	toggles := make(map[string]bool, len(c.FeatureToggles))
	for k, v := range c.FeatureToggles {
		if key := strings.TrimSpace(k); key != "" {
			toggles[key] = v
		}
	}
	c.FeatureToggles = toggles
}

// Validate reports every problem Sanitize would silently repair or that
// would make a trusted key unusable.
func (c Companion) Validate() error {
	var errs []error
	if _, err := auth.ParsePolicy(string(c.ServerSignaturePolicy)); err != nil {
		errs = append(errs, err)
	}
	for i, id := range c.AllowedServerIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("allowed_server_ids[%d] is blank", i))
		}
	}
	for i, key := range c.ServerSignaturePublicKeys {
		if _, err := auth.ParseTrustedKey(key); err != nil {
			errs = append(errs, fmt.Errorf("server_signature_public_keys[%d]: %w", i, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Policy returns the effective signature policy.
func (c Companion) Policy() auth.Policy {
	return auth.NormalizePolicy(c.ServerSignaturePolicy)
}

// FeatureEnabled returns the stored toggle, or the catalog default when the
// feature has no stored value. Unknown features are disabled.
func (c Companion) FeatureEnabled(id string) bool {
	if v, ok := c.FeatureToggles[id]; ok {
		return v
	}
	if def, ok := feature.Find(id); ok {
		return def.DefaultEnabled
	}
	return false
}

// EnsureFeatureDefaults stores the default toggle for every catalog feature
// missing from c. It reports whether anything was added.
func (c *Companion) EnsureFeatureDefaults() bool {
	if c.FeatureToggles == nil {
		c.FeatureToggles = map[string]bool{}
	}
	changed := false
	for _, def := range feature.All() {
		if _, ok := c.FeatureToggles[def.ID]; !ok {
			c.FeatureToggles[def.ID] = def.DefaultEnabled
			changed = true
		}
	}
	return changed
}

// ShouldOverrideCodec reports whether the raw payload fallback applies to
// channelID.
func (c Companion) ShouldOverrideCodec(channelID string) bool {
	return c.EnablePayloadCodecFallback && channelID == protocol.ChannelID
}

// Load reads path, writing defaults first when the file does not exist.
// The returned config is sanitised and written back.
func Load(path string) (Companion, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Companion{}, fmt.Errorf("config load failed (%s): %w", path, err)
	default:
		if cfg, err = Decode(data); err != nil {
			return Companion{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := Save(path, &cfg); err != nil {
		return Companion{}, err
	}
	return cfg, nil
}

// Decode parses TOML without sanitising, so Validate sees the raw values.
// Keys missing from data keep their zero value, except
// log_malformed_once_per_connection which defaults to true.
func Decode(data []byte) (Companion, error) {
	cfg := Companion{LogMalformedOncePerConnection: true}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Companion{}, err
	}
	return cfg, nil
}

// Save sanitises cfg and writes it to path.
func Save(path string, cfg *Companion) error {
	cfg.Sanitize()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config encode failed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config write failed (%s): %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config write failed (%s): %w", path, err)
	}
	return nil
}

// Manager caches the config loaded from one path.
type Manager struct {
	path string

	mu     sync.Mutex
	cached *Companion
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Load() (Companion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) GetOrLoad() (Companion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached.Clone(), nil
	}
	return m.loadLocked()
}

func (m *Manager) Save(cfg Companion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := Save(m.path, &cfg); err != nil {
		return err
	}
	c := cfg.Clone()
	m.cached = &c
	return nil
}

func (m *Manager) loadLocked() (Companion, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return Companion{}, err
	}
	c := cfg.Clone()
	m.cached = &c
	return cfg, nil
}

// Clone returns a deep copy that shares no slices or maps with c.
func (c Companion) Clone() Companion {
	out := c
	out.AllowedServerIDs = slices.Clone(c.AllowedServerIDs)
	out.ServerSignaturePublicKeys = slices.Clone(c.ServerSignaturePublicKeys)
	out.FeatureToggles = make(map[string]bool, len(c.FeatureToggles))
	for k, v := range c.FeatureToggles {
		out.FeatureToggles[k] = v
	}
	return out
}

func cleanList(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = norm(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
