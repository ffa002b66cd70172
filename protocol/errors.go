package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("protocol: invalid argument")
	ErrInvalidFrame        = errors.New("protocol: invalid frame")
	ErrPayloadTooShort     = errors.New("protocol: payload too short")
	ErrPayloadTooLong      = errors.New("protocol: payload too long")
	ErrUnknownDataType     = errors.New("protocol: unknown data type")
	ErrTransferCRC         = errors.New("protocol: transfer CRC mismatch")
	ErrToggle              = errors.New("protocol: toggle bit out of sequence")
	ErrUnexpectedFrame     = errors.New("protocol: frame without start of transfer")
	ErrAnonymousMultiFrame = errors.New("protocol: anonymous transfers must fit in one frame")
	ErrInvalidNodeID       = fmt.Errorf("protocol: node id must be in 1..%d", MaxNodeID)
)

// ServiceError represents a non-success status returned by a remote service.
type ServiceError struct {
	// Operation is the service call that failed
	Operation string

	// Code is the status code from the remote node
	Code int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Operation, fileErrorName(e.Code), e.Code)
}

// IsServiceError returns true if the error is a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// fileErrorName returns a human-readable name for a file service error code.
func fileErrorName(code int) string {
	switch code {
	case FileErrorOK:
		return "ok"
	case FileErrorNotFound:
		return "not found"
	case FileErrorIOError:
		return "i/o error"
	case FileErrorAccessDenied:
		return "access denied"
	case FileErrorIsDirectory:
		return "is a directory"
	case FileErrorInvalidValue:
		return "invalid value"
	case FileErrorFileTooLarge:
		return "file too large"
	case FileErrorOutOfSpace:
		return "out of space"
	case FileErrorNotImplemented:
		return "not implemented"
	case FileErrorUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("unknown status code %d", code)
	}
}
