package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-canboot/can"
)

// MaxTransferPayload bounds the reassembly buffer. The largest transfer this
// node handles is a file read response (2 + 256 bytes) plus the transfer CRC.
const MaxTransferPayload = 512

// Transfer is a complete, reassembled transfer.
type Transfer struct {
	Header     Header
	TransferID uint8
	Payload    []byte
}

// EncodeTransfer splits a payload into frames. Payloads that fit in a single
// frame are sent as-is; longer payloads are prefixed with the transfer CRC and
// spread over several frames with alternating toggle bits, starting at zero.
func EncodeTransfer(h Header, transferID uint8, payload []byte) ([]can.Frame, error) {
	id, err := h.Encode()
	if err != nil {
		return nil, err
	}
	transferID &= TailTransferIDMask

	if len(payload) <= FramePayloadLength {
		data := make([]byte, 0, len(payload)+1)
		data = append(data, payload...)
		data = append(data, byte(MakeTail(true, true, false, transferID)))
		f, err := can.NewFrame(id, data)
		if err != nil {
			return nil, err
		}
		return []can.Frame{f}, nil
	}

	if h.Kind == KindAnonymous {
		return nil, ErrAnonymousMultiFrame
	}
	if len(payload) > MaxTransferPayload-TransferCRCLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}

	signature, err := Signature(h.Kind, h.DataTypeID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, TransferCRCLength, TransferCRCLength+len(payload))
	binary.LittleEndian.PutUint16(buf, TransferCRC(signature, payload))
	buf = append(buf, payload...)

	frames := make([]can.Frame, 0, (len(buf)+FramePayloadLength-1)/FramePayloadLength)
	toggle := false
	for offset := 0; offset < len(buf); offset += FramePayloadLength {
		end := offset + FramePayloadLength
		if end > len(buf) {
			end = len(buf)
		}
		var data [can.MaxDataLength]byte
		n := copy(data[:], buf[offset:end])
		data[n] = byte(MakeTail(offset == 0, end == len(buf), toggle, transferID))

		f, err := can.NewFrame(id, data[:n+1])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		toggle = !toggle
	}
	return frames, nil
}

// SplitFrame separates a frame's payload from its tail byte.
func SplitFrame(f can.Frame) (payload []byte, tail Tail, err error) {
	if f.Len == 0 || f.Len > can.MaxDataLength {
		return nil, 0, ErrInvalidFrame
	}
	data := f.Payload()
	return data[:len(data)-1], Tail(data[len(data)-1]), nil
}

type sessionKey struct {
	kind        Kind
	dataTypeID  uint16
	source      uint8
	destination uint8
}

type rxSession struct {
	transferID uint8
	toggle     bool
	buf        []byte
}

// Reassembler rebuilds multi-frame transfers. Frames of different sessions
// (kind, data type, source, destination) may interleave.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	sessions map[sessionKey]*rxSession
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{sessions: make(map[sessionKey]*rxSession)}
}

// Reset drops all partially received transfers.
func (r *Reassembler) Reset() {
	for k := range r.sessions {
		delete(r.sessions, k)
	}
}

// Accept consumes one frame. It returns the completed transfer when f ends
// one, nil while a transfer is still in progress, or an error when the frame
// is malformed or out of sequence (the affected session is dropped).
func (r *Reassembler) Accept(f can.Frame) (*Transfer, error) {
	data, tail, err := SplitFrame(f)
	if err != nil {
		return nil, err
	}
	h := ParseHeader(f.ID)

	if tail.IsSingleFrame() {
		payload := make([]byte, len(data))
		copy(payload, data)
		return &Transfer{Header: h, TransferID: tail.TransferID(), Payload: payload}, nil
	}
	if h.Kind == KindAnonymous {
		return nil, ErrAnonymousMultiFrame
	}

	key := sessionKey{kind: h.Kind, dataTypeID: h.DataTypeID, source: h.Source, destination: h.Destination}

	if tail.IsStart() {
		if tail.IsToggled() {
			delete(r.sessions, key)
			return nil, ErrToggle
		}
		s := &rxSession{
			transferID: tail.TransferID(),
			toggle:     true,
			buf:        make([]byte, 0, 64),
		}
		s.buf = append(s.buf, data...)
		r.sessions[key] = s
		return nil, nil
	}

	s, ok := r.sessions[key]
	if !ok || s.transferID != tail.TransferID() {
		return nil, ErrUnexpectedFrame
	}
	if tail.IsToggled() != s.toggle {
		delete(r.sessions, key)
		return nil, ErrToggle
	}
	if len(s.buf)+len(data) > MaxTransferPayload {
		delete(r.sessions, key)
		return nil, ErrPayloadTooLong
	}
	s.buf = append(s.buf, data...)
	s.toggle = !s.toggle

	if !tail.IsEnd() {
		return nil, nil
	}
	delete(r.sessions, key)

	if len(s.buf) < TransferCRCLength {
		return nil, ErrPayloadTooShort
	}
	signature, err := Signature(h.Kind, h.DataTypeID)
	if err != nil {
		return nil, err
	}
	want := binary.LittleEndian.Uint16(s.buf[:TransferCRCLength])
	payload := s.buf[TransferCRCLength:]
	if got := TransferCRC(signature, payload); got != want {
		return nil, fmt.Errorf("%w: got 0x%04X, expected 0x%04X", ErrTransferCRC, got, want)
	}
	return &Transfer{Header: h, TransferID: s.transferID, Payload: payload}, nil
}
