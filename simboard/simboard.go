// Package simboard is a simulated board for running the bootloader off
// target. A Board provides the board support, launcher and handoff region
// collaborators over an in-memory flash, and its state survives between
// simulator runs through Save and Load.
package simboard

import (
	"io"
	"log/slog"
	"sync"

	"github.com/moffa90/go-canboot/bootloader"
	"github.com/moffa90/go-canboot/flash"
	"github.com/moffa90/go-canboot/handoff"
	"github.com/moffa90/go-canboot/protocol"
)

// Jump is a recorded application start.
type Jump struct {
	VectorTable uint32
	StackTop    uint32
	EntryPoint  uint32
}

// Board is a simulated board. It is safe for concurrent use.
type Board struct {
	mu sync.Mutex

	hw    protocol.HardwareVersion
	name  string
	strap *bool
	log   *slog.Logger

	flash   *flash.Sim
	handoff [handoff.RecordSize]byte

	indications []bootloader.Indication
	kicks       int
	deinits     int
	jumps       []Jump

	// Counters persisted across runs.
	boots  uint32
	resets uint32
}

var (
	_ bootloader.Board    = (*Board)(nil)
	_ bootloader.Launcher = (*Board)(nil)
	_ handoff.Region      = (*Board)(nil)
)

// Option configures a Board.
type Option func(*Board)

// WithName sets the product name reported in GetNodeInfo.
func WithName(name string) Option {
	return func(b *Board) {
		b.name = name
	}
}

// WithHardwareVersion sets the board revision.
func WithHardwareVersion(major, minor uint8) Option {
	return func(b *Board) {
		b.hw.Major = major
		b.hw.Minor = minor
	}
}

// WithStrap fits the GetNodeInfo jumper in the given position.
func WithStrap(active bool) Option {
	return func(b *Board) {
		b.strap = &active
	}
}

// WithLogger reports indications and board events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) {
		b.log = logger
	}
}

// New returns a board with the given unique id over fl.
//
// Example:
//
//	fl := flash.NewSim(0x08004000, 0x3C000)
//	board := simboard.New(uid, fl, simboard.WithName("org.example.gps"))
//	bl := bootloader.New(bootloader.Hardware{
//	    CAN: port, Flash: fl, Handoff: board, Board: board, Launcher: board,
//	})
func New(uid [protocol.UniqueIDLength]byte, fl *flash.Sim, opts ...Option) *Board {
	if fl == nil {
		panic("flash cannot be nil")
	}
	b := &Board{
		hw:    protocol.HardwareVersion{UniqueID: uid},
		name:  "org.example.canboot-sim",
		flash: fl,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b
}

// Flash returns the application region.
func (b *Board) Flash() *flash.Sim {
	return b.flash
}

func (b *Board) HardwareVersion() protocol.HardwareVersion {
	return b.hw
}

func (b *Board) ProductName() string {
	return b.name
}

func (b *Board) Indicate(i bootloader.Indication) {
	b.mu.Lock()
	b.indications = append(b.indications, i)
	b.mu.Unlock()
	b.log.Debug("indication", "indication", i.String())
}

func (b *Board) KickWatchdog() {
	b.mu.Lock()
	b.kicks++
	b.mu.Unlock()
}

func (b *Board) GetNodeInfoStrap() (present, active bool) {
	if b.strap == nil {
		return false, false
	}
	return true, *b.strap
}

func (b *Board) Deinitialize() {
	b.mu.Lock()
	b.deinits++
	b.mu.Unlock()
}

// Reset counts a hardware reset and clears the per-run records.
func (b *Board) Reset() {
	b.mu.Lock()
	b.resets++
	b.indications = nil
	b.mu.Unlock()
	b.log.Info("board reset")
}

// Jump records the application start.
func (b *Board) Jump(vectorTable, stackTop, entryPoint uint32) {
	b.mu.Lock()
	b.boots++
	b.jumps = append(b.jumps, Jump{VectorTable: vectorTable, StackTop: stackTop, EntryPoint: entryPoint})
	b.mu.Unlock()
	b.log.Info("application started",
		"vector_table", vectorTable,
		"stack", stackTop,
		"entry", entryPoint,
	)
}

// Load implements handoff.Region.
func (b *Board) Load() ([handoff.RecordSize]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handoff, nil
}

// Store implements handoff.Region.
func (b *Board) Store(rec [handoff.RecordSize]byte) error {
	b.mu.Lock()
	b.handoff = rec
	b.mu.Unlock()
	return nil
}

// RequestUpdate plays the application's part of an update request: it takes
// the bus parameters the bootloader handed over and writes them back as an
// application record, so that the next run skips autobaud and allocation.
func (b *Board) RequestUpdate() error {
	rec, err := handoff.Read(b, handoff.RoleBootloader)
	if err != nil {
		return err
	}
	return handoff.Write(b, rec, handoff.RoleApplication)
}

// Jumps returns the application starts recorded since New.
func (b *Board) Jumps() []Jump {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Jump, len(b.jumps))
	copy(out, b.jumps)
	return out
}

// Indications returns the indications since the last reset.
func (b *Board) Indications() []bootloader.Indication {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bootloader.Indication, len(b.indications))
	copy(out, b.indications)
	return out
}

// Counters returns the number of application starts and resets over the
// board's lifetime.
func (b *Board) Counters() (boots, resets uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boots, b.resets
}
