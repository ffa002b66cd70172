package bootloader

import (
	"encoding/binary"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// allocationSession follows one allocator response, which may span several frames.
type allocationSession struct {
	// server is the allocator being followed, 0 when none.
	server     uint8
	transferID uint8

	// crc and allocated come from the first frame of a multi-frame response.
	crc       uint16
	allocated byte

	// matched counts the unique id bytes confirmed so far.
	matched int
}

// allocate runs the allocatee side of dynamic node id allocation until a node
// id is granted or expired reports true, in which case it returns ErrTimeout.
func (b *Bootloader) allocate(expired func() bool) (uint8, error) {
	hw := b.hw.Board.HardwareVersion()
	uid := hw.UniqueID[:]
	discriminator := b.discriminator

	trequest := b.timers.MustAllocate(timer.ModeTimeout|timer.ModeStarted, b.requestPeriod(), nil)
	defer b.timers.Free(trequest)

	var s allocationSession
	for !expired() {
		b.poll()

		if b.timers.Expired(trequest) {
			b.sendAllocationRequest(uid, 0, discriminator)
			b.timers.Restart(trequest, b.requestPeriod())
		}

		f, ok := b.hw.CAN.Receive(can.FIFOAllocation)
		if !ok {
			continue
		}
		h := protocol.ParseHeader(f.ID)
		if !h.IsAllocation() {
			continue
		}
		data, tail, err := protocol.SplitFrame(f)
		if err != nil {
			continue
		}

		// Any allocation traffic postpones our own request.
		b.timers.Restart(trequest, b.requestPeriod())

		if h.Kind == protocol.KindAnonymous || (s.server != 0 && h.Source != s.server) {
			continue
		}

		offset := 0
		if s.server == 0 || tail.IsStart() || tail.TransferID() != s.transferID {
			if tail.IsEnd() {
				offset = 1
			} else {
				if len(data) < protocol.TransferCRCLength+1 {
					continue
				}
				s.crc = binary.LittleEndian.Uint16(data[0:2])
				s.allocated = data[2]
				offset = protocol.TransferCRCLength + 1
			}
			s.server = h.Source
			s.transferID = tail.TransferID()
			s.matched = 0
		}

		i := offset
		for i < len(data) && s.matched < len(uid) && uid[s.matched] == data[i] {
			s.matched++
			i++
		}
		if i < len(data) {
			b.logDebug("allocation response for another node", "server", h.Source, "matched", s.matched)
			s.server = 0
			continue
		}
		if !tail.IsEnd() {
			continue
		}

		if s.matched < len(uid) {
			if !b.allocationFollowup(trequest, expired) {
				s.server = 0
				continue
			}
			b.sendAllocationRequest(uid, s.matched, discriminator)
			b.timers.Restart(trequest, b.requestPeriod())
			continue
		}

		nodeID := s.allocated >> 1
		expected := uint16(protocol.SignatureCRC16(protocol.AllocationSignature).AddByte(s.allocated).Add(uid))
		if expected == s.crc && nodeID != protocol.AnonymousNodeID {
			b.logInfo("node id allocated", "node_id", nodeID, "server", s.server)
			return nodeID, nil
		}
		b.logDebug("allocation response rejected", "crc", s.crc, "expected", expected, "node_id", nodeID)
		s.server = 0
	}
	return protocol.AnonymousNodeID, ErrTimeout
}

// allocationFollowup waits a random follow-up delay before a second-stage
// request. It reports false when another allocation message arrived first.
func (b *Bootloader) allocationFollowup(trequest timer.ID, expired func() bool) bool {
	b.timers.Restart(trequest, b.randomPeriod(b.config.MinFollowupDelay, b.config.MaxFollowupDelay))
	for !b.timers.Expired(trequest) {
		b.poll()
		if f, ok := b.hw.CAN.Receive(can.FIFOAllocation); ok && protocol.ParseHeader(f.ID).IsAllocation() {
			b.timers.Restart(trequest, b.requestPeriod())
			return false
		}
		if expired() {
			return false
		}
	}
	return true
}

// sendAllocationRequest broadcasts up to MaxUniqueIDInRequest unique id
// bytes starting at offset. An offset of zero makes it a first-stage request.
func (b *Bootloader) sendAllocationRequest(uid []byte, offset int, discriminator uint16) {
	end := offset + protocol.MaxUniqueIDInRequest
	if end > len(uid) {
		end = len(uid)
	}
	payload, err := protocol.EncodeAllocation(&protocol.Allocation{
		NodeID:              protocol.AnonymousNodeID,
		FirstPartOfUniqueID: offset == 0,
		UniqueID:            uid[offset:end],
	})
	if err == nil {
		err = b.broadcastAnonymous(protocol.AllocationID, discriminator, payload)
	}
	if err != nil {
		b.logError("allocation request not sent", "offset", offset, "error", err)
		return
	}
	b.logDebug("allocation request sent", "offset", offset, "length", end-offset)
}

func (b *Bootloader) requestPeriod() time.Duration {
	return b.randomPeriod(b.config.MinRequestPeriod, b.config.MaxRequestPeriod)
}

// randomPeriod returns a uniformly distributed duration in [min, max].
func (b *Bootloader) randomPeriod(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(b.rand.Int63n(int64(max-min)+1))
}
