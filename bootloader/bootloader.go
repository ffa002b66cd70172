package bootloader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/handoff"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// timerCapacity is the number of timer handles a run may hold at once.
const timerCapacity = 12

// Hardware bundles the collaborators the bootloader drives.
type Hardware struct {
	// CAN is the bus controller.
	CAN can.Driver

	// Flash is the application region.
	Flash Flash

	// Handoff holds the record shared with the application.
	Handoff handoff.Region

	// Board provides identity, indicators, the watchdog and reset.
	Board Board

	// Launcher starts the application.
	Launcher Launcher

	// Clock is the time base of the timers. Nil uses the system clock.
	Clock timer.Clock
}

// Outcome is the terminal state of a run.
type Outcome struct {
	// Phase is PhaseBoot when the application was started, PhaseFail otherwise.
	Phase Phase

	// Stage tags the failure. It is zero after a boot.
	Stage Stage

	// Err is the failure cause.
	Err error

	// NodeID is the node id in use when the run ended, 0 if none.
	NodeID uint8

	// Updated is true when a new image was programmed.
	Updated bool
}

// Bootloader runs the boot sequence of a CAN node: validate the resident
// application, join the bus, optionally take a firmware update and finally
// start the application or reset.
//
// A Bootloader is driven by a single goroutine. Run may be called again to
// model the next reset.
type Bootloader struct {
	hw     Hardware
	config Config
	clock  timer.Clock

	state  *State
	timers *timer.Facility
	rx     *protocol.Reassembler
	tids   map[tidKey]uint8
	rand   *rand.Rand

	discriminator uint16
	started       time.Time

	// Timer handles held for the whole run.
	tuptime  timer.ID
	tinfo    timer.ID
	tstatus  timer.ID
	tboot    timer.ID
	tlimit   timer.ID
	tservice timer.ID

	handoff        handoff.Record
	appRequest     bool
	fromAllocation bool
	update         *updateRequest
	imageSize      uint32
	updated        bool
}

// New creates a Bootloader for the given hardware.
//
// Example:
//
//	bl := bootloader.New(bootloader.Hardware{
//	    CAN:      port,
//	    Flash:    flashRegion,
//	    Handoff:  sharedRAM,
//	    Board:    board,
//	    Launcher: board,
//	}, bootloader.WithBootTimeout(5*time.Second))
//	outcome := bl.Run()
func New(hw Hardware, opts ...Option) *Bootloader {
	switch {
	case hw.CAN == nil:
		panic("CAN driver cannot be nil")
	case hw.Flash == nil:
		panic("flash cannot be nil")
	case hw.Handoff == nil:
		panic("handoff region cannot be nil")
	case hw.Board == nil:
		panic("board cannot be nil")
	case hw.Launcher == nil:
		panic("launcher cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := hw.Clock
	if clock == nil {
		clock = timer.Real()
	}

	return &Bootloader{
		hw:     hw,
		config: cfg,
		clock:  clock,
		state:  new(State),
	}
}

// State returns the state record of the current or last run.
func (b *Bootloader) State() *State {
	return b.state
}

// Run executes the boot sequence and returns how it ended. After a boot the
// Launcher has been called; after a failure the board has been reset.
func (b *Bootloader) Run() Outcome {
	b.reset()
	defer b.release()

	phase := PhaseInit
	for {
		b.logDebug("phase", "phase", phase)
		b.reportProgress(phase, 0, b.imageSize)

		var next Phase
		var err error
		switch phase {
		case PhaseInit:
			next, err = b.initialize()
		case PhaseValidateResidentApp:
			next, err = b.validateResidentApp()
		case PhaseApplyHandoff:
			next, err = b.applyHandoff()
		case PhaseAllocate:
			next, err = b.autobaudAndAllocate()
		case PhaseAwaitIdentityQuery:
			next, err = b.awaitIdentityQuery()
		case PhaseAwaitUpdateRequest:
			next, err = b.awaitUpdateRequest()
		case PhaseErase:
			next, err = b.erase()
		case PhaseStream:
			next, err = b.stream()
		case PhaseRevalidate:
			next, err = b.revalidate()
		case PhaseFinalize:
			next, err = b.finalize()
		case PhaseBoot:
			if err := b.boot(); err != nil {
				return b.exit(phase, &StageError{Stage: StageInit, Err: err})
			}
			return Outcome{Phase: PhaseBoot, NodeID: b.state.NodeID(), Updated: b.updated}
		default:
			err = fmt.Errorf("unknown phase %q", phase)
		}
		if err != nil {
			return b.exit(phase, err)
		}
		phase = next
	}
}

// reset prepares a fresh run, as after a hardware reset.
func (b *Bootloader) reset() {
	b.state = new(State)
	b.state.setStatus(protocol.HealthOK, protocol.ModeInitialization)
	b.timers = timer.New(b.clock, timerCapacity)
	b.rx = protocol.NewReassembler()
	b.tids = make(map[tidKey]uint8)
	b.started = b.clock.Now()

	hw := b.hw.Board.HardwareVersion()
	b.discriminator = uint16(protocol.CRC16(uint16(b.started.UnixNano())).Add(hw.UniqueID[:]))
	b.rand = b.config.Rand
	if b.rand == nil {
		b.rand = rand.New(rand.NewSource(b.started.UnixNano() ^ int64(b.discriminator)))
	}

	b.handoff = handoff.Record{}
	b.appRequest = false
	b.fromAllocation = false
	b.update = nil
	b.imageSize = 0
	b.updated = false
}

// release frees the run's timers, which stops the periodic jobs.
func (b *Bootloader) release() {
	for _, id := range []timer.ID{b.tuptime, b.tinfo, b.tstatus, b.tboot, b.tlimit, b.tservice} {
		b.timers.Free(id)
	}
}

func (b *Bootloader) initialize() (Phase, error) {
	b.indicate(IndicateReset)

	rec, err := handoff.Read(b.hw.Handoff, handoff.RoleApplication)
	switch {
	case err != nil:
		b.logDebug("no update request from the application", "reason", err)
	case can.SpeedFromBitRate(rec.BusBitRate) == can.SpeedUnknown ||
		rec.NodeID == protocol.AnonymousNodeID || rec.NodeID > protocol.MaxNodeID:
		// Unusable bus parameters: join the bus from scratch instead.
		b.logInfo("update request ignored", "bit_rate", rec.BusBitRate, "node_id", rec.NodeID)
	default:
		b.appRequest = true
		b.handoff = rec
	}
	if err := handoff.Invalidate(b.hw.Handoff); err != nil {
		b.logError("handoff record not cleared", "error", err)
	}
	b.state.AppRequestedUpdate = b.appRequest

	b.state.WaitForGetNodeInfo = b.config.WaitForGetNodeInfo
	if present, active := b.hw.Board.GetNodeInfoStrap(); present {
		b.state.WaitForGetNodeInfo = active
	}
	b.state.ImageBase = b.hw.Flash.Base()

	b.tuptime = b.timers.MustAllocate(timer.ModeRepeating|timer.ModeStarted, time.Second, b.uptimeProcess)
	b.tinfo = b.timers.MustAllocate(timer.ModeRepeating, b.config.NodeInfoRate, b.nodeInfoProcess)
	b.tstatus = b.timers.MustAllocate(timer.ModeRepeating, b.config.NodeStatusRate, b.nodeStatusProcess)
	b.tboot = b.timers.MustAllocate(timer.ModeTimeout, b.config.BootTimeout, nil)
	b.tservice = b.timers.MustAllocate(timer.ModeTimeout, b.config.ServiceTimeout, nil)
	b.tlimit = timer.InvalidID
	if b.config.MaxWait > 0 {
		b.tlimit = b.timers.MustAllocate(timer.ModeTimeout, b.config.MaxWait, nil)
	}
	return PhaseValidateResidentApp, nil
}

func (b *Bootloader) validateResidentApp() (Phase, error) {
	word0, err := b.hw.Flash.Word(0)
	if err != nil {
		return "", &StageError{Stage: StageInit, Err: err}
	}
	v := firmware.IsAppValid(b.hw.Flash, word0, b.hw.Flash.Size())
	b.state.setDescriptor(v.Descriptor)
	b.state.setAppValid(v.Valid)
	if v.Valid {
		b.logInfo("resident application valid",
			"version", fmt.Sprintf("%d.%d", v.Descriptor.Major, v.Descriptor.Minor),
			"size", v.Descriptor.ImageSize,
			"crc", fmt.Sprintf("0x%016X", v.Descriptor.ImageCRC),
		)
	} else {
		b.logInfo("resident application invalid", "reason", v.Err)
	}

	if v.Valid && !b.state.WaitForGetNodeInfo && !b.appRequest {
		b.timers.Start(b.tboot)
	}
	if b.appRequest {
		return PhaseApplyHandoff, nil
	}
	return PhaseAllocate, nil
}

func (b *Bootloader) applyHandoff() (Phase, error) {
	speed := can.SpeedFromBitRate(b.handoff.BusBitRate)
	if err := b.hw.CAN.Init(speed); err != nil {
		return "", &StageError{Stage: StageInit, Err: fmt.Errorf("init CAN at %v: %w", speed, err)}
	}
	b.state.setBusSpeed(speed)
	b.state.setNodeID(uint8(b.handoff.NodeID))
	b.fromAllocation = false
	b.logInfo("bus parameters from the application", "speed", speed.String(), "node_id", b.handoff.NodeID)
	return PhaseAwaitIdentityQuery, nil
}

// autobaudAndAllocate joins the bus. A timeout is not fatal: the boot phase
// decides whether there is something to start.
func (b *Bootloader) autobaudAndAllocate() (Phase, error) {
	b.restartLimit()

	b.indicate(IndicateAutobaudStart)
	speed, err := b.hw.CAN.Autobaud(b.deadlineExpired)
	if err != nil {
		b.logInfo("autobaud gave up", "error", err)
		return PhaseBoot, nil
	}
	b.indicate(IndicateAutobaudEnd)
	b.state.setBusSpeed(speed)
	b.logInfo("bus speed detected", "speed", speed.String())

	b.indicate(IndicateAllocationStart)
	nodeID, err := b.allocate(b.deadlineExpired)
	if err != nil {
		b.logInfo("allocation gave up", "error", err)
		return PhaseBoot, nil
	}
	b.indicate(IndicateAllocationEnd)
	b.state.setNodeID(nodeID)
	b.state.uptime.Store(0)
	b.fromAllocation = true
	return PhaseAwaitIdentityQuery, nil
}

func (b *Bootloader) awaitIdentityQuery() (Phase, error) {
	b.timers.Start(b.tinfo)
	b.timers.Start(b.tstatus)
	b.restartLimit()

	for !b.state.SentNodeInfo() {
		b.poll()
		if b.deadlineExpired() {
			b.logInfo("no node info request before the deadline")
			return PhaseBoot, nil
		}
	}

	if b.state.AppValid() && (b.state.WaitForGetNodeInfo || b.appRequest) {
		b.timers.Start(b.tboot)
	}
	return PhaseAwaitUpdateRequest, nil
}

func (b *Bootloader) awaitUpdateRequest() (Phase, error) {
	b.restartLimit()
	req, err := b.waitForBeginFirmwareUpdate(b.deadlineExpired)
	if err != nil {
		b.logInfo("no update requested", "error", err)
		return PhaseBoot, nil
	}
	b.timers.Stop(b.tboot)
	b.update = req

	b.indicate(IndicateUpdateStart)
	b.state.setMode(protocol.ModeSoftwareUpdate)

	size, err := b.fileGetInfo(req.source, req.path)
	if err != nil {
		return "", &StageError{Stage: StageGetInfo, Err: err}
	}
	if size < firmware.DescriptorSize {
		return "", &StageError{Stage: StageGetInfo, Err: fmt.Errorf("%w: %d bytes", firmware.ErrImageTooShort, size)}
	}
	b.imageSize = size
	return PhaseErase, nil
}

func (b *Bootloader) erase() (Phase, error) {
	b.busLog(protocol.LogLevelInfo, StageErase, resultStart)

	// From here on GetNodeInfo must not advertise the old image.
	b.state.setAppValid(false)

	base, size := b.hw.Flash.Base(), b.hw.Flash.Size()
	if err := b.hw.Flash.Erase(base, size); err != nil {
		b.indicate(IndicateEraseFail)
		return "", &StageError{Stage: StageErase, Err: &FlashError{Op: "erase", Addr: base, Err: err}}
	}
	b.logDebug("application region erased", "base", fmt.Sprintf("0x%08X", base), "size", size)
	return PhaseStream, nil
}

func (b *Bootloader) stream() (Phase, error) {
	if err := b.fileReadAndProgram(b.update.source, b.update.path, b.imageSize); err != nil {
		return "", &StageError{Stage: StageProgram, Err: err}
	}
	return PhaseRevalidate, nil
}

func (b *Bootloader) revalidate() (Phase, error) {
	v := firmware.IsAppValid(b.hw.Flash, b.state.FirstWord, b.hw.Flash.Size())
	b.state.setDescriptor(v.Descriptor)
	if !v.Valid {
		b.state.setAppValid(false)
		b.indicate(IndicateInvalidCRC)
		return "", &StageError{Stage: StageValidate, Err: &VerificationError{Reason: v.Err}}
	}
	return PhaseFinalize, nil
}

// finalize commits the first word, which makes the image bootable.
func (b *Bootloader) finalize() (Phase, error) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], b.state.FirstWord)
	base := b.hw.Flash.Base()
	if err := b.hw.Flash.Write(base, word[:]); err != nil {
		return "", &StageError{Stage: StageFinalize, Err: &FlashError{Op: "write", Addr: base, Err: err}}
	}
	b.state.setAppValid(true)
	b.updated = true
	b.busLog(protocol.LogLevelInfo, StageFinalize, resultOK)
	b.reportProgress(PhaseFinalize, b.imageSize, b.imageSize)
	b.logInfo("update complete", "size", b.imageSize, "elapsed", b.clock.Now().Sub(b.started).String())
	return PhaseBoot, nil
}

// boot checks the vector table and hands control to the application.
func (b *Bootloader) boot() error {
	b.hw.Board.KickWatchdog()

	desc := b.state.Descriptor()
	if desc == nil {
		return firmware.ErrDescriptorNotFound
	}
	if !b.state.AppValid() {
		return &BootError{Reason: "application failed validation"}
	}

	stackTop, err := b.hw.Flash.Word(0)
	if err != nil {
		return err
	}
	entryPoint, err := b.hw.Flash.Word(4)
	if err != nil {
		return err
	}
	base := b.hw.Flash.Base()
	switch {
	case stackTop == firmware.ErasedWord:
		return &BootError{StackTop: stackTop, EntryPoint: entryPoint, Reason: "first word is erased"}
	case entryPoint <= base || uint64(entryPoint) >= uint64(base)+uint64(desc.ImageSize):
		return &BootError{StackTop: stackTop, EntryPoint: entryPoint, Reason: "entry point outside the image"}
	}

	for _, id := range []timer.ID{b.tuptime, b.tinfo, b.tstatus} {
		b.timers.Stop(id)
	}
	b.hw.Board.Deinitialize()
	b.indicate(IndicateJumpToApp)

	if b.fromAllocation {
		rec := handoff.Record{BusBitRate: b.state.BusSpeed().BitRate(), NodeID: uint32(b.state.NodeID())}
		if err := handoff.Write(b.hw.Handoff, rec, handoff.RoleBootloader); err != nil {
			b.logError("handoff record not written", "error", err)
		}
	}

	b.logInfo("starting application",
		"stack", fmt.Sprintf("0x%08X", stackTop),
		"entry", fmt.Sprintf("0x%08X", entryPoint),
	)
	b.hw.Launcher.Jump(base, stackTop, entryPoint)
	return nil
}

// exit is the single failure path: report the stage, advertise a critical
// health, wait out the restart delay and reset the board.
func (b *Bootloader) exit(phase Phase, err error) Outcome {
	stage := StageInit
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}

	b.logError("boot failed", "phase", phase, "stage", stage.String(), "error", err)
	b.busLog(protocol.LogLevelError, stage, resultFail)
	b.state.setHealth(protocol.HealthCritical)
	b.reportProgress(PhaseFail, 0, b.imageSize)

	b.sleep(b.config.RestartTimeout)
	b.hw.Board.Reset()

	return Outcome{
		Phase:  PhaseFail,
		Stage:  stage,
		Err:    err,
		NodeID: b.state.NodeID(),
	}
}

// deadlineExpired reports whether the boot timeout or the wait bound ran out.
func (b *Bootloader) deadlineExpired() bool {
	if b.timers.Expired(b.tboot) {
		return true
	}
	return b.tlimit != timer.InvalidID && b.timers.Expired(b.tlimit)
}

func (b *Bootloader) restartLimit() {
	if b.tlimit != timer.InvalidID {
		b.timers.Restart(b.tlimit, b.config.MaxWait)
	}
}

func (b *Bootloader) indicate(i Indication) {
	b.logDebug("indication", "indication", i.String())
	b.hw.Board.Indicate(i)
}

// reportProgress calls the progress callback if configured.
func (b *Bootloader) reportProgress(phase Phase, written, total uint32) {
	if b.config.ProgressCallback == nil {
		return
	}
	p := Progress{
		Phase:        phase,
		BytesWritten: written,
		TotalBytes:   total,
		ElapsedTime:  b.clock.Now().Sub(b.started),
	}
	if total > 0 {
		p.Percentage = float64(written) / float64(total) * 100
	}
	b.config.ProgressCallback(p)
}

// logDebug logs a debug message if a logger is configured.
func (b *Bootloader) logDebug(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (b *Bootloader) logInfo(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (b *Bootloader) logError(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Error(msg, keysAndValues...)
	}
}
