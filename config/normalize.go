package config

import "github.com/moffa90/go-canboot/fwserver"

// Defaults applied by Normalize.
const (
	DefaultBoardName = "org.example.canboot-sim"
	DefaultUniqueID  = "000102030405060708090a0b0c0d0e0f"
	DefaultBitRate   = 1000000
	DefaultFlashBase = 0x08004000
	DefaultFlashSize = 0x3C000
	DefaultImagePath = "firmware.bin"
)

// Normalize fills omitted fields with defaults. It is called before
// Validate, so it must accept any input.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Board.Name == "" {
		cfg.Board.Name = DefaultBoardName
	}
	if cfg.Board.UniqueID == "" {
		cfg.Board.UniqueID = DefaultUniqueID
	}

	if cfg.Bus.BitRate == 0 {
		cfg.Bus.BitRate = DefaultBitRate
	}

	if cfg.Layout.FlashBase == 0 {
		cfg.Layout.FlashBase = DefaultFlashBase
	}
	if cfg.Layout.FlashSize == 0 {
		cfg.Layout.FlashSize = DefaultFlashSize
	}

	b := &cfg.Bootloader
	setDefault(&b.BootTimeoutMs, 5000)
	setDefault(&b.NodeInfoRateMs, 50)
	setDefault(&b.NodeStatusRateMs, 800)
	setDefault(&b.RestartTimeoutMs, 20000)
	setDefault(&b.ServiceTimeoutMs, 1000)
	setDefault(&b.ServiceRetries, 3)
	setDefault(&b.MinRequestPeriodMs, 600)
	setDefault(&b.MaxRequestPeriodMs, 1000)
	setDefault(&b.MaxFollowupDelayMs, 400)

	if cfg.Server.NodeID == 0 {
		cfg.Server.NodeID = fwserver.DefaultNodeID
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = DefaultImagePath
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
