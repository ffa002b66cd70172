package fwserver

import "log/slog"

// DefaultNodeID is the node id the server uses when none is configured.
const DefaultNodeID = 126

// Config holds the server configuration.
type Config struct {
	// NodeID is the server's own node id
	NodeID uint8

	// Logger receives server diagnostics (optional)
	Logger *slog.Logger

	// Path is the remote path the image is offered under
	Path string

	// Image is the firmware image served to nodes that need it (optional)
	Image []byte

	// ForceUpdate requests an update even when the node already runs the image
	ForceUpdate bool

	// ReportedSize overrides the size returned by GetInfo when nonzero
	ReportedSize uint64

	// ReadErrors is the number of Read requests answered with an I/O error
	ReadErrors int

	// DroppedReads is the number of Read requests left unanswered
	DroppedReads int

	// TamperIndex flips the unique id byte at this index in allocation
	// replies. Negative disables tampering.
	TamperIndex int
}

func defaultConfig() Config {
	return Config{
		NodeID:      DefaultNodeID,
		Path:        "firmware.bin",
		TamperIndex: -1,
	}
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithNodeID sets the server's node id.
func WithNodeID(id uint8) Option {
	return func(c *Config) {
		if id > 0 && id <= 127 {
			c.NodeID = id
		}
	}
}

// WithLogger sets the logger for server diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithImage offers image under path. Nodes whose GetNodeInfo response does
// not advertise the image CRC are told to update.
//
// Example:
//
//	srv := fwserver.New(clock, fwserver.WithImage("app.bin", image))
func WithImage(path string, image []byte) Option {
	return func(c *Config) {
		c.Path = path
		c.Image = image
	}
}

// WithForceUpdate requests an update regardless of the running version.
func WithForceUpdate(force bool) Option {
	return func(c *Config) {
		c.ForceUpdate = force
	}
}

// WithReportedSize makes GetInfo report size instead of the image length.
func WithReportedSize(size uint64) Option {
	return func(c *Config) {
		c.ReportedSize = size
	}
}

// WithReadErrors answers the first n Read requests with an I/O error.
func WithReadErrors(n int) Option {
	return func(c *Config) {
		c.ReadErrors = n
	}
}

// WithDroppedReads leaves the first n Read requests unanswered.
func WithDroppedReads(n int) Option {
	return func(c *Config) {
		c.DroppedReads = n
	}
}

// WithTamperedUniqueID corrupts byte index of the unique id in allocation replies.
func WithTamperedUniqueID(index int) Option {
	return func(c *Config) {
		c.TamperIndex = index
	}
}
