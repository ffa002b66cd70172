package bootloader

import (
	"fmt"

	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/flash"
	"github.com/moffa90/go-canboot/protocol"
)

// Indication is a milestone signalled to the board, typically with LEDs.
type Indication int

const (
	IndicateReset Indication = iota
	IndicateAutobaudStart
	IndicateAutobaudEnd
	IndicateAllocationStart
	IndicateAllocationEnd
	IndicateUpdateStart
	IndicateEraseFail
	IndicateInvalidResponse
	IndicateTimeout
	IndicateInvalidCRC
	IndicateJumpToApp
)

func (i Indication) String() string {
	switch i {
	case IndicateReset:
		return "reset"
	case IndicateAutobaudStart:
		return "autobaud start"
	case IndicateAutobaudEnd:
		return "autobaud end"
	case IndicateAllocationStart:
		return "allocation start"
	case IndicateAllocationEnd:
		return "allocation end"
	case IndicateUpdateStart:
		return "firmware update start"
	case IndicateEraseFail:
		return "erase fail"
	case IndicateInvalidResponse:
		return "invalid response"
	case IndicateTimeout:
		return "timeout"
	case IndicateInvalidCRC:
		return "invalid CRC"
	case IndicateJumpToApp:
		return "jump to application"
	default:
		return fmt.Sprintf("indication(%d)", int(i))
	}
}

// Board is the board support collaborator.
type Board interface {
	// HardwareVersion returns the board revision and its unique id.
	HardwareVersion() protocol.HardwareVersion

	// ProductName returns the node name reported in GetNodeInfo responses.
	ProductName() string

	// Indicate signals a milestone.
	Indicate(Indication)

	// KickWatchdog restarts the hardware watchdog.
	KickWatchdog()

	// GetNodeInfoStrap reads the optional jumper that overrides the
	// wait-for-GetNodeInfo policy. present is false on boards without one.
	GetNodeInfoStrap() (present, active bool)

	// Deinitialize returns peripherals to their reset state before the jump.
	Deinitialize()

	// Reset forces a hardware reset.
	Reset()
}

// Launcher hands execution to the application. It is the only place that may
// touch the processor state directly; on hardware Jump relocates the vector
// table to vectorTable, loads the stack pointer and branches to entryPoint,
// and never returns.
type Launcher interface {
	Jump(vectorTable, stackTop, entryPoint uint32)
}

// Flash is the application region: readable memory that can be programmed.
type Flash interface {
	firmware.Memory
	flash.Programmer
}
