package bootloader

import (
	"fmt"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/protocol"
)

// updateRequest is an accepted BeginFirmwareUpdate request.
type updateRequest struct {
	// source serves the image file.
	source uint8
	path   []byte
}

// waitForBeginFirmwareUpdate waits for a BeginFirmwareUpdate request and
// acknowledges it. It returns ErrTimeout once expired reports true.
func (b *Bootloader) waitForBeginFirmwareUpdate(expired func() bool) (*updateRequest, error) {
	for {
		t, err := b.await(can.FIFOTransfer, expired, func(t *protocol.Transfer) bool {
			return t.Header.Is(protocol.KindRequest, protocol.BeginFirmwareUpdateID)
		})
		if err != nil {
			return nil, err
		}
		req, err := protocol.ParseBeginFirmwareUpdateRequest(t.Payload)
		if err != nil {
			b.logError("malformed update request", "from", t.Header.Source, "error", err)
			continue
		}

		payload, err := protocol.EncodeBeginFirmwareUpdateResponse(&protocol.BeginFirmwareUpdateResponse{
			Error: protocol.UpdateErrorOK,
		})
		if err == nil {
			err = b.respond(t, payload)
		}
		if err != nil {
			b.logError("update response not sent", "to", t.Header.Source, "error", err)
		}

		source := req.SourceNodeID
		if source == protocol.AnonymousNodeID {
			source = t.Header.Source
		}
		b.logInfo("update requested", "from", t.Header.Source, "source", source, "path", string(req.Path))
		return &updateRequest{source: source, path: req.Path}, nil
	}
}

// fileGetInfo asks source for the size of the image at path. The size must
// describe a readable file that fits in the application region.
func (b *Bootloader) fileGetInfo(source uint8, path []byte) (uint32, error) {
	payload, err := protocol.EncodeGetInfoRequest(path)
	if err != nil {
		return 0, err
	}

	limit := uint64(b.hw.Flash.Size())
	err = ErrTimeout
	for retries := b.config.ServiceRetries; retries > 0; retries-- {
		var t *protocol.Transfer
		t, err = b.call(protocol.GetInfoID, source, payload)
		if err != nil {
			b.logDebug("get info attempt failed", "retries", retries-1, "error", err)
			continue
		}
		var info *protocol.GetInfoResponse
		if info, err = protocol.ParseGetInfoResponse(t.Payload); err != nil {
			continue
		}
		switch {
		case info.Error != protocol.FileErrorOK:
			err = &protocol.ServiceError{Operation: "get info", Code: int(info.Error)}
		case !info.IsReadableFile():
			err = fmt.Errorf("%q is not a readable file (entry type 0x%02X)", path, info.EntryType)
		case info.Size == 0 || info.Size >= limit:
			err = fmt.Errorf("image size %d outside 1..%d", info.Size, limit-1)
		default:
			b.logDebug("image info", "path", string(path), "size", info.Size)
			return uint32(info.Size), nil
		}
		b.logError("get info rejected", "path", string(path), "error", err)
	}
	return 0, err
}
