// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"io"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the configuration of a Context.
type Config struct {
	// MixedDepthStencil indicates whether the driver
	// supports a layout that is read-only for depth and
	// writable for stencil. If false, such uses fall back
	// to the depth/stencil target layout.
	MixedDepthStencil bool `toml:"mixed_depth_stencil"`
	// DebugLabels enables debug labels around the
	// commands of each pass.
	DebugLabels bool `toml:"debug_labels"`
	// MergeTransitions records all transitions and
	// barriers of a step with a single command each.
	MergeTransitions bool `toml:"merge_transitions"`
	// FenceTimeout is used by Runnable.Wait when given
	// the zero deadline.
	FenceTimeout Duration `toml:"fence_timeout"`
	// CmdBuffers is the number of command buffers that
	// each runnable cycles through. It must be at least 1.
	CmdBuffers int `toml:"cmd_buffers"`
}

// Duration is a time.Duration that decodes from strings
// such as "1.5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(x)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MixedDepthStencil: true,
		DebugLabels:       false,
		MergeTransitions:  true,
		FenceTimeout:      Duration(2 * time.Second),
		CmdBuffers:        2,
	}
}

// LoadConfig decodes a TOML document on top of the
// default configuration. Unknown keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "framegraph: LoadConfig")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.CmdBuffers < 1:
		return errors.New("framegraph: Config.CmdBuffers must be at least 1")
	case c.FenceTimeout < 0:
		return errors.New("framegraph: Config.FenceTimeout must not be negative")
	}
	return nil
}
