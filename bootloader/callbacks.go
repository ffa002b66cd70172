package bootloader

import (
	"log/slog"
	"time"
)

// Progress contains information about a firmware update in progress.
// Passed to ProgressCallback whenever the phase changes and after every chunk.
type Progress struct {
	// Phase is the bootloader phase that produced the report.
	Phase Phase

	// BytesWritten is the number of image bytes programmed so far
	BytesWritten uint32

	// TotalBytes is the image size reported by the file server (0 until known)
	TotalBytes uint32

	// Percentage is the completion percentage of the image transfer (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time since Run started
	ElapsedTime time.Duration
}

// ProgressCallback is called to report progress.
// Implementations must return quickly; the bootloader polls the bus on the same goroutine.
//
// Example:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% (%d/%d bytes)\n",
//	            p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the bootloader.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	bl := bootloader.New(hw, bootloader.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// SlogLogger adapts a *slog.Logger to Logger.
//
// Example:
//
//	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
//	bl := bootloader.New(hw, bootloader.WithLogger(bootloader.NewSlogLogger(slog.New(handler))))
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

// Phase names a step of the boot sequence.
type Phase string

// Phases in the order a full update visits them.
const (
	PhaseInit                Phase = "init"
	PhaseValidateResidentApp Phase = "validate"
	PhaseApplyHandoff        Phase = "handoff"
	PhaseAllocate            Phase = "allocate"
	PhaseAwaitIdentityQuery  Phase = "await-getnodeinfo"
	PhaseAwaitUpdateRequest  Phase = "await-update"
	PhaseErase               Phase = "erase"
	PhaseStream              Phase = "stream"
	PhaseRevalidate          Phase = "revalidate"
	PhaseFinalize            Phase = "finalize"
	PhaseBoot                Phase = "boot"
	PhaseFail                Phase = "fail"
)
