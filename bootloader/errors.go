package bootloader

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a deadline expires before the expected message arrived.
var ErrTimeout = errors.New("timed out")

// Stage tags the bootloader step a failure is reported against in LogMessage frames.
type Stage byte

const (
	StageInit     Stage = 'I'
	StageGetInfo  Stage = 'G'
	StageErase    Stage = 'E'
	StageRead     Stage = 'R'
	StageProgram  Stage = 'P'
	StageValidate Stage = 'V'
	StageFinalize Stage = 'F'
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageGetInfo:
		return "get info"
	case StageErase:
		return "erase"
	case StageRead:
		return "read"
	case StageProgram:
		return "program"
	case StageValidate:
		return "validate"
	case StageFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("stage(%q)", byte(s))
	}
}

// StageError is a fatal failure tagged with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// VerificationError indicates that a programmed image failed validation.
type VerificationError struct {
	Reason error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("firmware verification failed: %v", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Reason }

// FlashError indicates that erasing or programming flash failed.
type FlashError struct {
	Op   string
	Addr uint32
	Err  error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("flash %s at 0x%08X: %v", e.Op, e.Addr, e.Err)
}

func (e *FlashError) Unwrap() error { return e.Err }

// BootError indicates that the application vector table failed the pre-jump checks.
type BootError struct {
	StackTop   uint32
	EntryPoint uint32
	Reason     string
}

func (e *BootError) Error() string {
	return fmt.Sprintf("cannot boot application (stack 0x%08X, entry 0x%08X): %s",
		e.StackTop, e.EntryPoint, e.Reason)
}

// IncompleteTransferError indicates that streaming ended before the expected size was programmed.
type IncompleteTransferError struct {
	Written  uint32
	Expected uint32
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete image: wrote %d of %d bytes", e.Written, e.Expected)
}
