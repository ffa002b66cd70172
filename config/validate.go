package config

import (
	"fmt"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/protocol"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// BOARD
	// ------------------------------------------------------------

	if _, err := cfg.UniqueID(); err != nil {
		return err
	}
	if n := len(cfg.Board.Name); n > protocol.MaxNameLength {
		return fmt.Errorf("board name is %d bytes, limit is %d", n, protocol.MaxNameLength)
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	if cfg.Speed() == can.SpeedUnknown {
		return fmt.Errorf("bus bit_rate %d is not one of 125000, 250000, 500000, 1000000", cfg.Bus.BitRate)
	}

	// ------------------------------------------------------------
	// FLASH LAYOUT
	// ------------------------------------------------------------

	l := cfg.Layout
	if l.FlashBase%4 != 0 || l.FlashSize%4 != 0 {
		return fmt.Errorf("flash layout 0x%08X+0x%X must be word aligned", l.FlashBase, l.FlashSize)
	}
	if uint64(l.FlashBase)+uint64(l.FlashSize) > 1<<32 {
		return fmt.Errorf("flash layout 0x%08X+0x%X exceeds the address space", l.FlashBase, l.FlashSize)
	}

	// ------------------------------------------------------------
	// BOOTLOADER TIMINGS
	// ------------------------------------------------------------

	b := cfg.Bootloader
	for _, f := range []struct {
		name  string
		value int
	}{
		{"boot_timeout_ms", b.BootTimeoutMs},
		{"node_info_rate_ms", b.NodeInfoRateMs},
		{"node_status_rate_ms", b.NodeStatusRateMs},
		{"restart_timeout_ms", b.RestartTimeoutMs},
		{"service_timeout_ms", b.ServiceTimeoutMs},
		{"service_retries", b.ServiceRetries},
		{"min_request_period_ms", b.MinRequestPeriodMs},
		{"max_request_period_ms", b.MaxRequestPeriodMs},
		{"max_followup_delay_ms", b.MaxFollowupDelayMs},
	} {
		if f.value <= 0 {
			return fmt.Errorf("bootloader %s must be positive, got %d", f.name, f.value)
		}
	}
	if b.MaxWaitMs < 0 {
		return fmt.Errorf("bootloader max_wait_ms must not be negative, got %d", b.MaxWaitMs)
	}
	if b.MinRequestPeriodMs > b.MaxRequestPeriodMs {
		return fmt.Errorf("bootloader min_request_period_ms %d exceeds max_request_period_ms %d",
			b.MinRequestPeriodMs, b.MaxRequestPeriodMs)
	}

	// ------------------------------------------------------------
	// FIRMWARE SERVER
	// ------------------------------------------------------------

	s := cfg.Server
	if s.Disabled && b.MaxWaitMs == 0 {
		return fmt.Errorf("server disabled: bootloader max_wait_ms must be set or the node waits forever")
	}
	if s.NodeID == protocol.AnonymousNodeID || s.NodeID > protocol.MaxNodeID {
		return fmt.Errorf("server node_id %d outside 1..%d", s.NodeID, protocol.MaxNodeID)
	}
	if len(s.Path) > protocol.MaxPathLength {
		return fmt.Errorf("server path is %d bytes, limit is %d", len(s.Path), protocol.MaxPathLength)
	}

	return nil
}
