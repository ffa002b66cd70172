package bootloader

import (
	"encoding/binary"
	"math/rand"
	"testing"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/can/vcan"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/flash"
	"github.com/moffa90/go-canboot/fwserver"
	"github.com/moffa90/go-canboot/handoff"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

const (
	testFlashBase = 0x08000000
	testFlashSize = 4096
	testClockStep = 100 * time.Microsecond
)

var testUniqueID = [protocol.UniqueIDLength]byte{
	0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7,
	0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF,
}

// MockBoard records what the bootloader asks of the board.
type MockBoard struct {
	hw           protocol.HardwareVersion
	indications  []Indication
	kicks        int
	deinits      int
	resets       int
	strapPresent bool
	strapActive  bool
}

func NewMockBoard() *MockBoard {
	return &MockBoard{hw: protocol.HardwareVersion{Major: 1, Minor: 0, UniqueID: testUniqueID}}
}

func (m *MockBoard) HardwareVersion() protocol.HardwareVersion { return m.hw }
func (m *MockBoard) ProductName() string                       { return "org.example.test" }
func (m *MockBoard) Indicate(i Indication)                     { m.indications = append(m.indications, i) }
func (m *MockBoard) KickWatchdog()                             { m.kicks++ }
func (m *MockBoard) Deinitialize()                             { m.deinits++ }
func (m *MockBoard) Reset()                                    { m.resets++ }

func (m *MockBoard) GetNodeInfoStrap() (present, active bool) {
	return m.strapPresent, m.strapActive
}

func (m *MockBoard) indicated(i Indication) bool {
	for _, got := range m.indications {
		if got == i {
			return true
		}
	}
	return false
}

type jump struct {
	vectorTable, stackTop, entryPoint uint32
}

// MockLauncher records jumps instead of executing them.
type MockLauncher struct {
	jumps []jump
}

func (m *MockLauncher) Jump(vectorTable, stackTop, entryPoint uint32) {
	m.jumps = append(m.jumps, jump{vectorTable, stackTop, entryPoint})
}

// MockLogger collects log messages.
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

// testImage builds a stamped image whose vector table points into the test
// flash region. seed varies the payload so that images differ.
func testImage(t *testing.T, size int, seed byte) []byte {
	t.Helper()
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i)*3 + seed
	}
	binary.LittleEndian.PutUint32(img[0:], 0x20002000)
	binary.LittleEndian.PutUint32(img[4:], testFlashBase+0x101)
	desc := &firmware.ApplicationDescriptor{Major: 2, Minor: seed, VCSCommit: 0xC0FFEE}
	copy(img[128:], desc.Bytes())
	if _, err := firmware.Stamp(img); err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	return img
}

// harness is a bootloader node on a virtual bus, optionally next to a server.
type harness struct {
	clock    *timer.FakeClock
	bus      *vcan.Bus
	port     *vcan.Port
	flash    *flash.Sim
	region   *handoff.MemoryRegion
	board    *MockBoard
	launcher *MockLauncher
	logger   *MockLogger
	server   *fwserver.Server
}

func newHarness(t *testing.T, speed can.Speed) *harness {
	t.Helper()
	clock := timer.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), testClockStep)
	bus := vcan.NewBus(clock, speed)
	return &harness{
		clock:    clock,
		bus:      bus,
		port:     bus.Attach(protocol.Classify),
		flash:    flash.NewSim(testFlashBase, testFlashSize),
		region:   &handoff.MemoryRegion{},
		board:    NewMockBoard(),
		launcher: &MockLauncher{},
		logger:   &MockLogger{},
	}
}

// withServer attaches a firmware server to the bus.
func (h *harness) withServer(opts ...fwserver.Option) *harness {
	h.server = fwserver.New(h.clock, opts...)
	h.server.Attach(h.bus)
	return h
}

// withSilentPeer attaches a node that never answers, so autobaud succeeds.
func (h *harness) withSilentPeer() *harness {
	h.bus.Listen(func(can.Frame) {})
	return h
}

func (h *harness) hardware() Hardware {
	return Hardware{
		CAN:      h.port,
		Flash:    h.flash,
		Handoff:  h.region,
		Board:    h.board,
		Launcher: h.launcher,
		Clock:    h.clock,
	}
}

// newBootloader returns a bootloader with fast timings for tests.
func (h *harness) newBootloader(opts ...Option) *Bootloader {
	base := []Option{
		WithLogger(h.logger),
		WithRandomSource(rand.New(rand.NewSource(1))),
		WithRequestPeriod(50*time.Millisecond, 100*time.Millisecond),
		WithFollowupDelay(0, 20*time.Millisecond),
		WithRestartTimeout(10 * time.Millisecond),
		WithMaxWait(30 * time.Second),
	}
	return New(h.hardware(), append(base, opts...)...)
}

// readRequestTimes returns when the node put the first frame of each Read
// request on the bus.
func (h *harness) readRequestTimes() []time.Time {
	var out []time.Time
	for _, rec := range h.port.Sent() {
		hdr := protocol.ParseHeader(rec.Frame.ID)
		if !hdr.Is(protocol.KindRequest, protocol.ReadID) {
			continue
		}
		if _, tail, err := protocol.SplitFrame(rec.Frame); err == nil && tail.IsStart() {
			out = append(out, rec.At)
		}
	}
	return out
}

// prepare brings bl to the state it has after joining the bus, so that the
// individual steps can be exercised directly.
func (h *harness) prepare(t *testing.T, bl *Bootloader, nodeID uint8) {
	t.Helper()
	bl.reset()
	if _, err := bl.initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	speed := h.bus.Speed()
	if err := h.port.Init(speed); err != nil {
		t.Fatalf("Init: %v", err)
	}
	bl.state.setBusSpeed(speed)
	bl.state.setNodeID(nodeID)
}

// deadline returns an expiry check for a fresh timeout of d.
func deadline(bl *Bootloader, d time.Duration) func() bool {
	id := bl.timers.MustAllocate(timer.ModeTimeout|timer.ModeStarted, d, nil)
	return func() bool { return bl.timers.Expired(id) }
}
