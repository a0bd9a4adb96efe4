// Package config loads fellowship settings. A settings file may be CUE or
// YAML; either way it is unified with an embedded CUE schema that supplies
// defaults, closes the set of fields, and constrains their values.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the decoded settings tree.
type Config struct {
	Store        StoreConfig        `json:"store"`
	Remote       RemoteConfig       `json:"remote"`
	Subscription SubscriptionConfig `json:"subscription"`
	Gateway      GatewayConfig      `json:"gateway"`
	GroupCache   GroupCacheConfig   `json:"groupCache"`
	User         UserConfig         `json:"user"`
	Log          LogConfig          `json:"log"`
	Metrics      MetricsConfig      `json:"metrics"`
	Serve        ServeConfig        `json:"serve"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

// RemoteConfig points at a realtime hub. An empty URL runs collaborative
// features against an in-process store.
type RemoteConfig struct {
	URL         string `json:"url"`
	Token       string `json:"token"`
	DialTimeout string `json:"dialTimeout"`
}

type SubscriptionConfig struct {
	Coalesce bool `json:"coalesce"`
}

type GatewayConfig struct {
	JoinTimeout string `json:"joinTimeout"`
}

type GroupCacheConfig struct {
	TTL      string `json:"ttl"`
	Capacity int    `json:"capacity"`
}

type UserConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	Listen string `json:"listen"`
}

type ServeConfig struct {
	Listen string `json:"listen"`
}

// Error is a settings error. Pos is set when the error can be traced to a
// position in the settings file.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: config: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "config: " + e.Message
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := decode(cuecontext.New(), nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads a settings file. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse decodes settings. The format follows filename's extension: .cue
// is CUE, .yaml and .yml are YAML.
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	var v cue.Value
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(filename))
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Message: fmt.Sprintf("%s: %v", filename, err)}
		}
		if raw == nil {
			raw = map[string]any{}
		}
		v = ctx.Encode(raw)
	default:
		return nil, &Error{Message: fmt.Sprintf("%s: unsupported settings format", filename)}
	}
	if err := v.Err(); err != nil {
		return nil, cueError(err)
	}
	return decode(ctx, &v)
}

func decode(ctx *cue.Context, data *cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))
	if data != nil {
		v = v.Unify(*data)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, cueError(err)
	}
	return &cfg, nil
}

func cueError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		out.Pos = pos[0]
	}
	return out
}

// DialTimeout parses Remote.DialTimeout.
func (c *Config) DialTimeout() time.Duration { return mustDuration(c.Remote.DialTimeout) }

// JoinTimeout parses Gateway.JoinTimeout.
func (c *Config) JoinTimeout() time.Duration { return mustDuration(c.Gateway.JoinTimeout) }

// GroupCacheTTL parses GroupCache.TTL.
func (c *Config) GroupCacheTTL() time.Duration { return mustDuration(c.GroupCache.TTL) }

// mustDuration is only called on values the schema has already matched
// against #Duration. Zero is returned for values set in Go after loading.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
