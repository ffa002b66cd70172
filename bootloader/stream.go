package bootloader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// errEmptyChunk is returned when the file ended on an empty read.
var errEmptyChunk = errors.New("final read returned no data")

// readPeriod is the minimum spacing of read requests at the current bus
// speed: 500ms at 125kbit/s, halving with every speed step.
func (b *Bootloader) readPeriod() time.Duration {
	return time.Second >> b.state.BusSpeed()
}

// fileReadAndProgram streams size bytes of the file at path from source into
// the application region. The first word is kept in the state and left
// erased in flash.
func (b *Bootloader) fileReadAndProgram(source uint8, path []byte, size uint32) error {
	period := b.readPeriod()
	tread := b.timers.MustAllocate(timer.ModeTimeout|timer.ModeStarted, 0, nil)
	defer b.timers.Free(tread)

	base := b.hw.Flash.Base()
	var offset, n uint32
	for {
		data, err := b.readChunk(tread, period, source, path, offset)
		if err != nil {
			b.indicate(IndicateTimeout)
			return fmt.Errorf("read at offset %d: %w", offset, err)
		}
		n = uint32(len(data))

		if offset == 0 {
			if n < 4 {
				return fmt.Errorf("first chunk holds %d bytes", n)
			}
			b.state.FirstWord = binary.LittleEndian.Uint32(data)
			binary.LittleEndian.PutUint32(data, firmware.ErasedWord)
		}
		if n&1 != 0 {
			data = append(data, 0xFF)
		}
		if n > 0 {
			if err := b.hw.Flash.Write(base+offset, data); err != nil {
				return &FlashError{Op: "write", Addr: base + offset, Err: err}
			}
		}
		offset += n

		b.reportProgress(PhaseStream, offset, size)
		if offset >= size || n != protocol.MaxReadDataLength {
			break
		}
	}

	if n == 0 {
		return errEmptyChunk
	}
	if offset != size {
		return &IncompleteTransferError{Written: offset, Expected: size}
	}
	b.logInfo("image received", "bytes", offset)
	return nil
}

// readChunk fetches the data at offset. Timeouts and error responses use
// up one of the service retries. Consecutive requests are at least period apart.
func (b *Bootloader) readChunk(tread timer.ID, period time.Duration, source uint8, path []byte, offset uint32) ([]byte, error) {
	payload, err := protocol.EncodeReadRequest(&protocol.ReadRequest{Offset: uint64(offset), Path: path})
	if err != nil {
		return nil, err
	}

	err = ErrTimeout
	for retries := b.config.ServiceRetries; retries > 0; retries-- {
		for !b.timers.Expired(tread) {
			b.poll()
		}
		tid, sendErr := b.request(protocol.ReadID, source, payload)
		b.timers.Restart(tread, period)
		if sendErr != nil {
			err = sendErr
			continue
		}

		var t *protocol.Transfer
		if t, err = b.awaitResponse(protocol.ReadID, source, tid); err != nil {
			b.logDebug("read timed out", "offset", offset, "retries", retries-1)
			continue
		}
		var resp *protocol.ReadResponse
		if resp, err = protocol.ParseReadResponse(t.Payload); err != nil {
			continue
		}
		if resp.Error != protocol.FileErrorOK {
			err = &protocol.ServiceError{Operation: "read", Code: int(resp.Error)}
			b.indicate(IndicateInvalidResponse)
			b.busLog(protocol.LogLevelError, StageProgram, resultFail)
			b.logError("read rejected", "offset", offset, "error", err)
			continue
		}
		return resp.Data, nil
	}
	return nil, err
}
