// Package config loads the simulator configuration.
//
// The file is YAML. Load applies defaults for every omitted field and then
// validates the result, so a returned Config is always usable.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-canboot/bootloader"
	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/fwserver"
)

type Config struct {
	Board      BoardConfig      `yaml:"board"`
	Bus        BusConfig        `yaml:"bus"`
	Layout     LayoutConfig     `yaml:"layout"`
	Bootloader BootloaderConfig `yaml:"bootloader"`
	Server     ServerConfig     `yaml:"server"`
}

// ---- BOARD ----

type BoardConfig struct {
	Name     string `yaml:"name"`
	UniqueID string `yaml:"unique_id"` // 32 hex digits
	HWMajor  uint8  `yaml:"hw_major"`
	HWMinor  uint8  `yaml:"hw_minor"`

	// GetNodeInfo strap (optional). Absent means the board has none.
	Strap *bool `yaml:"getnodeinfo_strap"`
}

// ---- BUS ----

type BusConfig struct {
	BitRate uint32 `yaml:"bit_rate"`
}

// ---- FLASH LAYOUT ----

type LayoutConfig struct {
	FlashBase uint32 `yaml:"flash_base"`
	FlashSize uint32 `yaml:"flash_size"`
}

// ---- BOOTLOADER TIMINGS ----

type BootloaderConfig struct {
	BootTimeoutMs      int  `yaml:"boot_timeout_ms"`
	NodeInfoRateMs     int  `yaml:"node_info_rate_ms"`
	NodeStatusRateMs   int  `yaml:"node_status_rate_ms"`
	RestartTimeoutMs   int  `yaml:"restart_timeout_ms"`
	ServiceTimeoutMs   int  `yaml:"service_timeout_ms"`
	ServiceRetries     int  `yaml:"service_retries"`
	MinRequestPeriodMs int  `yaml:"min_request_period_ms"`
	MaxRequestPeriodMs int  `yaml:"max_request_period_ms"`
	MaxFollowupDelayMs int  `yaml:"max_followup_delay_ms"`
	MaxWaitMs          int  `yaml:"max_wait_ms"` // 0 waits indefinitely
	WaitForGetNodeInfo bool `yaml:"wait_for_getnodeinfo"`

	// Seed makes allocation timing reproducible (optional)
	Seed *int64 `yaml:"seed"`
}

// ---- FIRMWARE SERVER ----

type ServerConfig struct {
	Disabled    bool   `yaml:"disabled"` // no allocator or file server on the bus
	NodeID      uint8  `yaml:"node_id"`
	Path        string `yaml:"path"`
	Image       string `yaml:"image"` // local file, .zst and .lz4 are decompressed
	ForceUpdate bool   `yaml:"force_update"`
}

// Load reads, normalizes and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	Normalize(&cfg)
	return &cfg
}

// UniqueID decodes the board unique id.
func (c *Config) UniqueID() ([16]byte, error) {
	var uid [16]byte
	raw, err := hex.DecodeString(c.Board.UniqueID)
	if err != nil {
		return uid, fmt.Errorf("board unique_id: %w", err)
	}
	if len(raw) != len(uid) {
		return uid, fmt.Errorf("board unique_id: got %d bytes, want %d", len(raw), len(uid))
	}
	copy(uid[:], raw)
	return uid, nil
}

// Speed returns the bus speed tier.
func (c *Config) Speed() can.Speed {
	return can.SpeedFromBitRate(c.Bus.BitRate)
}

// BootloaderOptions converts the timings to bootloader options.
func (c *Config) BootloaderOptions() []bootloader.Option {
	b := c.Bootloader
	opts := []bootloader.Option{
		bootloader.WithBootTimeout(ms(b.BootTimeoutMs)),
		bootloader.WithNodeInfoRate(ms(b.NodeInfoRateMs)),
		bootloader.WithNodeStatusRate(ms(b.NodeStatusRateMs)),
		bootloader.WithRestartTimeout(ms(b.RestartTimeoutMs)),
		bootloader.WithServiceTimeout(ms(b.ServiceTimeoutMs)),
		bootloader.WithServiceRetries(b.ServiceRetries),
		bootloader.WithRequestPeriod(ms(b.MinRequestPeriodMs), ms(b.MaxRequestPeriodMs)),
		bootloader.WithFollowupDelay(0, ms(b.MaxFollowupDelayMs)),
		bootloader.WithMaxWait(ms(b.MaxWaitMs)),
		bootloader.WithWaitForGetNodeInfo(b.WaitForGetNodeInfo),
	}
	if b.Seed != nil {
		opts = append(opts, bootloader.WithRandomSource(rand.New(rand.NewSource(*b.Seed))))
	}
	return opts
}

// ServerOptions returns the firmware server options. image is the content
// of Server.Image, nil when none is configured.
func (c *Config) ServerOptions(image []byte) []fwserver.Option {
	opts := []fwserver.Option{
		fwserver.WithNodeID(c.Server.NodeID),
		fwserver.WithForceUpdate(c.Server.ForceUpdate),
	}
	if image != nil {
		opts = append(opts, fwserver.WithImage(c.Server.Path, image))
	}
	return opts
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
