// Package vcan is an in-memory CAN bus for tests and the simulator.
//
// Every frame sent by one Port is delivered synchronously to all other ports
// on the same Bus. A port either queues received frames in per-FIFO queues
// (selected by its classifier, like a controller's acceptance filters) or hands
// them to a Handler, which lets simulated peers react inside the sender's call.
package vcan

import (
	"errors"
	"sync"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/timer"
)

// DefaultQueueDepth is the receive queue capacity of a port, per FIFO.
const DefaultQueueDepth = 256

// ErrNotInitialized is returned by Send before Init or a successful Autobaud.
var ErrNotInitialized = errors.New("vcan: port not initialized")

// Handler consumes frames synchronously. The port it was registered on may be
// used to send replies from inside the handler.
type Handler func(f can.Frame)

// Record is a frame together with the time it was put on the bus.
type Record struct {
	At    time.Time
	Frame can.Frame
}

// Bus connects ports. The zero value is not usable; call NewBus.
type Bus struct {
	mu    sync.Mutex
	clock timer.Clock
	speed can.Speed
	ports []*Port
	log   []Record
}

// NewBus returns a bus running at speed, timestamping frames with clock.
func NewBus(clock timer.Clock, speed can.Speed) *Bus {
	if clock == nil {
		clock = timer.Real()
	}
	return &Bus{clock: clock, speed: speed}
}

// Speed returns the bit rate the bus runs at.
func (b *Bus) Speed() can.Speed {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// Attach connects a new node. A nil classifier routes every frame to can.FIFOTransfer.
func (b *Bus) Attach(classify can.Classifier) *Port {
	return b.attach(&Port{bus: b, classify: classify, depth: DefaultQueueDepth})
}

// Listen connects a node whose received frames go to h instead of the queues.
// The returned port is already initialised at the bus speed.
func (b *Bus) Listen(h Handler) *Port {
	return b.attach(&Port{bus: b, handler: h, speed: b.Speed()})
}

func (b *Bus) attach(p *Port) *Port {
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

// History returns every frame delivered on the bus so far.
func (b *Bus) History() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.log))
	copy(out, b.log)
	return out
}

func (b *Bus) deliver(from *Port, f can.Frame) {
	b.mu.Lock()
	rec := Record{At: b.clock.Now(), Frame: f}
	b.log = append(b.log, rec)
	from.sent = append(from.sent, rec)
	speed := b.speed
	peers := make([]*Port, 0, len(b.ports))
	for _, p := range b.ports {
		if p != from {
			peers = append(peers, p)
		}
	}
	b.mu.Unlock()

	// Handlers may send; the bus lock is not held while they run.
	for _, p := range peers {
		if p.Speed() != speed {
			continue
		}
		if p.handler != nil {
			p.handler(f)
			continue
		}
		p.enqueue(f)
	}
}

func (b *Bus) hasPeer(self *Port) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.ports {
		if p != self {
			return true
		}
	}
	return false
}

// Port is one node's controller. It implements can.Driver.
type Port struct {
	bus      *Bus
	classify can.Classifier
	handler  Handler
	depth    int

	mu      sync.Mutex
	speed   can.Speed
	queues  [can.NumFIFOs][]can.Frame
	dropped int
	sent    []Record
}

var _ can.Driver = (*Port)(nil)

// Init configures the port. Frames are only exchanged when the port speed
// matches the bus speed.
func (p *Port) Init(speed can.Speed) error {
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	return nil
}

// Speed returns the bit rate the port was initialised at.
func (p *Port) Speed() can.Speed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Autobaud locks onto the bus speed once another node is attached. It spins
// until expired reports true when the bus is silent.
func (p *Port) Autobaud(expired func() bool) (can.Speed, error) {
	for {
		if speed := p.bus.Speed(); speed != can.SpeedUnknown && p.bus.hasPeer(p) {
			p.mu.Lock()
			p.speed = speed
			p.mu.Unlock()
			return speed, nil
		}
		if expired != nil && expired() {
			return can.SpeedUnknown, can.ErrAutobaudTimeout
		}
	}
}

// Send puts f on the bus. Delivery to peers completes before Send returns.
func (p *Port) Send(f can.Frame) error {
	speed := p.Speed()
	if speed == can.SpeedUnknown {
		return ErrNotInitialized
	}
	if speed != p.bus.Speed() {
		// A node at the wrong bit rate only produces error frames.
		return nil
	}
	p.bus.deliver(p, f)
	return nil
}

// Receive pops the oldest frame from fifo.
func (p *Port) Receive(fifo can.FIFO) (can.Frame, bool) {
	if fifo >= can.NumFIFOs {
		return can.Frame{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queues[fifo]
	if len(q) == 0 {
		return can.Frame{}, false
	}
	f := q[0]
	p.queues[fifo] = q[1:]
	return f, true
}

// Pending returns the number of queued frames in fifo.
func (p *Port) Pending(fifo can.FIFO) int {
	if fifo >= can.NumFIFOs {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[fifo])
}

// Dropped returns the number of frames lost to full receive queues.
func (p *Port) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Sent returns the frames this port put on the bus, oldest first.
func (p *Port) Sent() []Record {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	out := make([]Record, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *Port) enqueue(f can.Frame) {
	fifo := can.FIFOTransfer
	if p.classify != nil {
		fifo = p.classify(f.ID)
	}
	if fifo >= can.NumFIFOs {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queues[fifo]) >= p.depth {
		p.dropped++
		return
	}
	p.queues[fifo] = append(p.queues[fifo], f)
}
