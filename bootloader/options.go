package bootloader

import (
	"math/rand"
	"time"
)

// Config holds the bootloader configuration.
type Config struct {
	// ProgressCallback is called during the update to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for host-side logging (optional)
	Logger Logger

	// BootTimeout is the deadline for allocation and for the update request
	// when a valid application is waiting to be booted
	BootTimeout time.Duration

	// NodeInfoRate is the period of the GetNodeInfo responder
	NodeInfoRate time.Duration

	// NodeStatusRate is the period of the NodeStatus broadcast
	NodeStatusRate time.Duration

	// RestartTimeout is the grace period between a failure and the reset
	RestartTimeout time.Duration

	// WaitForGetNodeInfo holds the boot until a GetNodeInfo request was answered.
	// A board strap, when present, overrides it.
	WaitForGetNodeInfo bool

	// ServiceRetries is the number of attempts per file service call
	ServiceRetries int

	// ServiceTimeout bounds the wait for one service response
	ServiceTimeout time.Duration

	// MinRequestPeriod and MaxRequestPeriod bound the random interval
	// between first-stage allocation requests
	MinRequestPeriod time.Duration
	MaxRequestPeriod time.Duration

	// MinFollowupDelay and MaxFollowupDelay bound the random delay before a
	// second-stage allocation request
	MinFollowupDelay time.Duration
	MaxFollowupDelay time.Duration

	// MaxWait bounds every wait that BootTimeout does not govern.
	// Zero waits indefinitely, which is what deployed nodes do.
	MaxWait time.Duration

	// Rand drives the allocation timing jitter. Nil seeds one from the
	// unique id and the clock.
	Rand *rand.Rand
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		BootTimeout:      5 * time.Second,
		NodeInfoRate:     50 * time.Millisecond,
		NodeStatusRate:   800 * time.Millisecond,
		RestartTimeout:   20 * time.Second,
		ServiceRetries:   3,
		ServiceTimeout:   time.Second,
		MinRequestPeriod: 600 * time.Millisecond,
		MaxRequestPeriod: 1000 * time.Millisecond,
		MinFollowupDelay: 0,
		MaxFollowupDelay: 400 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Bootloader.
type Option func(*Config)

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the bootloader.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithBootTimeout sets how long a valid application waits for an update request.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithBootTimeout(10*time.Second))
func WithBootTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.BootTimeout = timeout
		}
	}
}

// WithNodeInfoRate sets how often pending GetNodeInfo requests are answered.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithNodeInfoRate(20*time.Millisecond))
func WithNodeInfoRate(rate time.Duration) Option {
	return func(c *Config) {
		if rate > 0 {
			c.NodeInfoRate = rate
		}
	}
}

// WithNodeStatusRate sets the NodeStatus broadcast period.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithNodeStatusRate(time.Second))
func WithNodeStatusRate(rate time.Duration) Option {
	return func(c *Config) {
		if rate > 0 {
			c.NodeStatusRate = rate
		}
	}
}

// WithRestartTimeout sets the delay between a failure and the reset.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithRestartTimeout(2*time.Second))
func WithRestartTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout >= 0 {
			c.RestartTimeout = timeout
		}
	}
}

// WithWaitForGetNodeInfo makes the bootloader wait for a GetNodeInfo request
// before it starts the boot countdown.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithWaitForGetNodeInfo(true))
func WithWaitForGetNodeInfo(wait bool) Option {
	return func(c *Config) {
		c.WaitForGetNodeInfo = wait
	}
}

// WithServiceRetries sets the number of attempts per file service call.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithServiceRetries(5))
func WithServiceRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.ServiceRetries = retries
		}
	}
}

// WithServiceTimeout sets how long one service response is awaited.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithServiceTimeout(500*time.Millisecond))
func WithServiceTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ServiceTimeout = timeout
		}
	}
}

// WithRequestPeriod sets the bounds of the random allocation request interval.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithRequestPeriod(600*time.Millisecond, time.Second))
func WithRequestPeriod(min, max time.Duration) Option {
	return func(c *Config) {
		if min > 0 && max >= min {
			c.MinRequestPeriod = min
			c.MaxRequestPeriod = max
		}
	}
}

// WithFollowupDelay sets the bounds of the random second-stage request delay.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithFollowupDelay(0, 400*time.Millisecond))
func WithFollowupDelay(min, max time.Duration) Option {
	return func(c *Config) {
		if min >= 0 && max >= min {
			c.MinFollowupDelay = min
			c.MaxFollowupDelay = max
		}
	}
}

// WithMaxWait bounds the waits that are indefinite on a deployed node, such
// as allocation without a bootable application. Zero disables the bound.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithMaxWait(time.Minute))
func WithMaxWait(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.MaxWait = d
		}
	}
}

// WithRandomSource sets the source of allocation timing jitter.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithRandomSource(rand.New(rand.NewSource(1))))
func WithRandomSource(r *rand.Rand) Option {
	return func(c *Config) {
		c.Rand = r
	}
}
