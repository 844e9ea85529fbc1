// Package config loads and validates RACER's TOML configuration file,
// modeled on luxfi-consensus/config.Parameters' struct-plus-Validate idiom:
// plain exported structs matching the file layout, a Default() that returns
// a workable configuration, and a Validate() that rejects anything the
// engine cannot safely run with.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// NodeSection is the [node] table.
type NodeSection struct {
	RouterBind string `toml:"router_bind"`
	// SelectionType is reserved for a future non-uniform sampling mode
	// (§9 Open Question); only "normal" is currently accepted.
	SelectionType string `toml:"selection_type"`
}

// ConsensusSection is the [consensus] table.
type ConsensusSection struct {
	EchoSampleSize    int `toml:"echo_sample_size"`
	ReadySampleSize   int `toml:"ready_sample_size"`
	ReadyThreshold    int `toml:"ready_threshold"`
	DeliveryThreshold int `toml:"delivery_threshold"`

	// ReadyBroadcast resolves the §9 Open Question on READY fan-out: when
	// true (default), READY is sent to every known peer in addition to
	// ready_sample, matching the source's note that batching already
	// implies broadcast is acceptable.
	ReadyBroadcast bool `toml:"ready_broadcast"`

	// DedupRetentionSecs bounds how long a DELIVERED MID is remembered
	// purely to silently absorb late duplicates (§4.6 GC). Defaults to
	// 10x target_latency_secs if zero.
	DedupRetentionSecs float64 `toml:"dedup_retention_secs"`

	// MaxInflightPerLane bounds each consensus lane's in-flight MID table
	// (§5 resource bounds). Zero defers to the engine's own default.
	MaxInflightPerLane int `toml:"max_inflight_per_lane"`
}

// PlatoSection is the [plato] table.
type PlatoSection struct {
	TargetLatencySecs             float64 `toml:"target_latency_secs"`
	TargetPublishingFrequencySecs float64 `toml:"target_publishing_frequency_secs"`

	WindowSize int     `toml:"window_size"`
	RSIPeriod  int     `toml:"rsi_period"`
	KUp        float64 `toml:"k_up"`
	KDown      float64 `toml:"k_down"`
	Alpha      float64 `toml:"alpha"`
	IntervalMax float64 `toml:"interval_max"`
	Overbought float64 `toml:"overbought"`
	Oversold   float64 `toml:"oversold"`
}

// PeersSection is the [peers] table.
type PeersSection struct {
	Routers []string `toml:"routers"`
}

// Config is the full file layout (§6).
type Config struct {
	Node      NodeSection      `toml:"node"`
	Consensus ConsensusSection `toml:"consensus"`
	Plato     PlatoSection     `toml:"plato"`
	Peers     PeersSection     `toml:"peers"`
}

// ErrBadConfig wraps every validation failure, checked with errors.Is by
// cmd/racer to select exit code 2 (§6).
var ErrBadConfig = errors.New("config: invalid configuration")

// ErrBadSelection is returned for an unrecognized node.selection_type.
var ErrBadSelection = fmt.Errorf("%w: unrecognized selection_type", ErrBadConfig)

// Default returns a workable single-process configuration, the shape
// `cmd/racer config` emits.
func Default() Config {
	return Config{
		Node: NodeSection{
			RouterBind:    "0.0.0.0:9000",
			SelectionType: "normal",
		},
		Consensus: ConsensusSection{
			EchoSampleSize:     8,
			ReadySampleSize:    8,
			ReadyThreshold:     5,
			DeliveryThreshold:  5,
			ReadyBroadcast:     true,
			DedupRetentionSecs: 60,
			MaxInflightPerLane: 8192,
		},
		Plato: PlatoSection{
			TargetLatencySecs:             0.25,
			TargetPublishingFrequencySecs: 1.0,
			WindowSize:                    11,
			RSIPeriod:                     14,
			KUp:                           1.5,
			KDown:                         0.75,
			Alpha:                         0.2,
			IntervalMax:                   30,
			Overbought:                    70,
			Oversold:                      30,
		},
		Peers: PeersSection{},
	}
}

// Load parses and validates the TOML file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DedupRetention returns the effective dedup retention window, defaulting
// to 10x the PLATO target latency when unset.
func (c Config) DedupRetention() time.Duration {
	secs := c.Consensus.DedupRetentionSecs
	if secs <= 0 {
		secs = 10 * c.Plato.TargetLatencySecs
	}
	return time.Duration(secs * float64(time.Second))
}

// Validate enforces every constraint named in §4.6, returning a wrapped
// ErrBadConfig naming the first violation found.
func (c Config) Validate() error {
	if c.Node.RouterBind == "" {
		return fmt.Errorf("%w: node.router_bind must not be empty", ErrBadConfig)
	}
	if c.Node.SelectionType != "normal" {
		return fmt.Errorf("%w: %q", ErrBadSelection, c.Node.SelectionType)
	}

	cs := c.Consensus
	if cs.EchoSampleSize <= 0 || cs.ReadySampleSize <= 0 {
		return fmt.Errorf("%w: sample sizes must be positive", ErrBadConfig)
	}
	if cs.ReadyThreshold <= 0 || cs.DeliveryThreshold <= 0 {
		return fmt.Errorf("%w: thresholds must be positive", ErrBadConfig)
	}
	if cs.ReadyThreshold > cs.EchoSampleSize {
		return fmt.Errorf("%w: ready_threshold (%d) must be <= echo_sample_size (%d)", ErrBadConfig, cs.ReadyThreshold, cs.EchoSampleSize)
	}
	if cs.DeliveryThreshold > cs.ReadySampleSize {
		return fmt.Errorf("%w: delivery_threshold (%d) must be <= ready_sample_size (%d)", ErrBadConfig, cs.DeliveryThreshold, cs.ReadySampleSize)
	}

	pl := c.Plato
	if pl.TargetLatencySecs <= 0 || pl.TargetPublishingFrequencySecs <= 0 {
		return fmt.Errorf("%w: plato targets must be positive", ErrBadConfig)
	}
	if pl.WindowSize < 5 || pl.WindowSize%2 == 0 {
		return fmt.Errorf("%w: plato.window_size must be odd and >= 5", ErrBadConfig)
	}
	if pl.RSIPeriod <= 0 {
		return fmt.Errorf("%w: plato.rsi_period must be positive", ErrBadConfig)
	}
	if pl.KUp <= 1 {
		return fmt.Errorf("%w: plato.k_up must be > 1", ErrBadConfig)
	}
	if pl.KDown <= 0 || pl.KDown >= 1 {
		return fmt.Errorf("%w: plato.k_down must be in (0,1)", ErrBadConfig)
	}
	if pl.Alpha <= 0 || pl.Alpha > 1 {
		return fmt.Errorf("%w: plato.alpha must be in (0,1]", ErrBadConfig)
	}
	if pl.IntervalMax <= 0 {
		return fmt.Errorf("%w: plato.interval_max must be positive", ErrBadConfig)
	}
	if pl.Overbought <= pl.Oversold {
		return fmt.Errorf("%w: plato.overbought must be > plato.oversold", ErrBadConfig)
	}

	return nil
}
