package bootloader

import (
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// Transfer priorities used by this node.
const (
	priorityAllocation = protocol.PriorityLowest - 1
	priorityService    = protocol.PriorityMedium
	priorityStatus     = protocol.PriorityLow
	priorityLog        = protocol.PriorityLowest
)

// maxSendAttempts bounds the retries of a frame while the transmit mailboxes are full.
const maxSendAttempts = 100

// Log message result codes.
const (
	resultStart = 's'
	resultFail  = 'f'
	resultOK    = 'o'
)

// logSource names this node in LogMessage broadcasts.
const logSource = "Boot"

// tidKey identifies an outgoing transfer session.
type tidKey struct {
	kind        protocol.Kind
	dataTypeID  uint16
	destination uint8
}

// nextTID returns the transfer id for the next transfer of a session.
func (b *Bootloader) nextTID(k tidKey) uint8 {
	tid := b.tids[k]
	b.tids[k] = (tid + 1) & protocol.MaxTransferID
	return tid
}

// send transmits a whole transfer.
func (b *Bootloader) send(h protocol.Header, tid uint8, payload []byte) error {
	frames, err := protocol.EncodeTransfer(h, tid, payload)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := b.sendFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootloader) sendFrame(f can.Frame) error {
	var err error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err = b.hw.CAN.Send(f); !errors.Is(err, can.ErrTxFull) {
			return err
		}
	}
	return err
}

// broadcast sends a message from this node.
func (b *Bootloader) broadcast(dataTypeID uint16, priority uint8, payload []byte) error {
	h := protocol.Header{
		Priority:   priority,
		Kind:       protocol.KindMessage,
		DataTypeID: dataTypeID,
		Source:     b.state.NodeID(),
	}
	return b.send(h, b.nextTID(tidKey{kind: protocol.KindMessage, dataTypeID: dataTypeID}), payload)
}

// broadcastAnonymous sends a single-frame message without a node id.
func (b *Bootloader) broadcastAnonymous(dataTypeID uint16, discriminator uint16, payload []byte) error {
	h := protocol.Header{
		Priority:      priorityAllocation,
		Kind:          protocol.KindAnonymous,
		DataTypeID:    dataTypeID,
		Discriminator: discriminator,
	}
	return b.send(h, b.nextTID(tidKey{kind: protocol.KindAnonymous, dataTypeID: dataTypeID}), payload)
}

// request sends a service request and returns its transfer id.
func (b *Bootloader) request(dataTypeID uint16, destination uint8, payload []byte) (uint8, error) {
	h := protocol.Header{
		Priority:    priorityService,
		Kind:        protocol.KindRequest,
		DataTypeID:  dataTypeID,
		Source:      b.state.NodeID(),
		Destination: destination,
	}
	tid := b.nextTID(tidKey{kind: protocol.KindRequest, dataTypeID: dataTypeID, destination: destination})
	return tid, b.send(h, tid, payload)
}

// respond answers req with the same priority and transfer id.
func (b *Bootloader) respond(req *protocol.Transfer, payload []byte) error {
	h := protocol.Header{
		Priority:    req.Header.Priority,
		Kind:        protocol.KindResponse,
		DataTypeID:  req.Header.DataTypeID,
		Source:      b.state.NodeID(),
		Destination: req.Header.Source,
	}
	return b.send(h, req.TransferID, payload)
}

// receive pops frames from fifo until one completes a transfer for this
// node. It reports false once the queue is empty.
func (b *Bootloader) receive(fifo can.FIFO) (*protocol.Transfer, bool) {
	for {
		f, ok := b.hw.CAN.Receive(fifo)
		if !ok {
			return nil, false
		}
		t, err := b.rx.Accept(f)
		if err != nil {
			b.logDebug("frame dropped", "id", fmt.Sprintf("0x%08X", f.ID), "error", err)
			continue
		}
		if t == nil {
			continue
		}
		if t.Header.Kind.IsService() && t.Header.Destination != b.state.NodeID() {
			continue
		}
		return t, true
	}
}

// await polls fifo until match accepts a transfer or expired reports true.
// Transfers rejected by match are discarded.
func (b *Bootloader) await(fifo can.FIFO, expired func() bool, match func(*protocol.Transfer) bool) (*protocol.Transfer, error) {
	for {
		b.poll()
		if t, ok := b.receive(fifo); ok && match(t) {
			return t, nil
		}
		if expired() {
			return nil, ErrTimeout
		}
	}
}

// call sends a service request and waits up to the service timeout for the
// matching response.
func (b *Bootloader) call(dataTypeID uint16, destination uint8, payload []byte) (*protocol.Transfer, error) {
	tid, err := b.request(dataTypeID, destination, payload)
	if err != nil {
		return nil, err
	}
	return b.awaitResponse(dataTypeID, destination, tid)
}

func (b *Bootloader) awaitResponse(dataTypeID uint16, source, tid uint8) (*protocol.Transfer, error) {
	b.timers.Restart(b.tservice, b.config.ServiceTimeout)
	expired := func() bool { return b.timers.Expired(b.tservice) }
	return b.await(can.FIFOTransfer, expired, func(t *protocol.Transfer) bool {
		return t.Header.Is(protocol.KindResponse, dataTypeID) &&
			t.Header.Source == source &&
			t.TransferID == tid
	})
}

// busLog broadcasts a two-character stage/result record. Nodes without an
// id stay silent.
func (b *Bootloader) busLog(level uint8, stage Stage, result byte) {
	if b.state.NodeID() == protocol.AnonymousNodeID {
		return
	}
	payload, err := protocol.EncodeLogMessage(&protocol.LogMessage{
		Level:  level,
		Source: logSource,
		Text:   string([]byte{byte(stage), result}),
	})
	if err == nil {
		err = b.broadcast(protocol.LogMessageID, priorityLog, payload)
	}
	if err != nil {
		b.logError("log message not sent", "stage", stage, "error", err)
	}
}

// poll is the tick: it runs the callbacks of the periodic timers. Every
// busy-wait loop calls it once per iteration.
func (b *Bootloader) poll() {
	b.timers.Service()
}

// sleep spins for d while the periodic jobs keep running.
func (b *Bootloader) sleep(d time.Duration) {
	t := b.timers.MustAllocate(timer.ModeTimeout|timer.ModeStarted, d, nil)
	defer b.timers.Free(t)
	for !b.timers.Expired(t) {
		b.poll()
	}
}
