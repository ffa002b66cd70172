package bootloader

import (
	"sync/atomic"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/protocol"
)

// State is the bootloader's process-wide record.
//
// Fields read by the tick callbacks (node id, status, uptime, app validity,
// descriptor and the node info flag) are atomics and may be read from any
// goroutine. The exported fields belong to the main flow.
type State struct {
	busSpeed     atomic.Uint32
	nodeID       atomic.Uint32
	status       atomic.Uint32
	appValid     atomic.Bool
	uptime       atomic.Uint32
	sentNodeInfo atomic.Bool
	descriptor   atomic.Pointer[firmware.ApplicationDescriptor]

	// ImageBase is the absolute address of the application region.
	ImageBase uint32

	// WaitForGetNodeInfo holds the boot until a GetNodeInfo request was answered.
	WaitForGetNodeInfo bool

	// AppRequestedUpdate is set when the application rebooted into the
	// bootloader with a valid handoff record.
	AppRequestedUpdate bool

	// FirstWord is the real first image word, kept out of flash until the
	// new image has been verified.
	FirstWord uint32
}

// BusSpeed returns the bus speed tier in use.
func (s *State) BusSpeed() can.Speed {
	return can.Speed(s.busSpeed.Load())
}

func (s *State) setBusSpeed(speed can.Speed) {
	s.busSpeed.Store(uint32(speed))
}

// NodeID returns the node id, 0 while none is assigned.
func (s *State) NodeID() uint8 {
	return uint8(s.nodeID.Load())
}

func (s *State) setNodeID(id uint8) {
	s.nodeID.Store(uint32(id))
}

// AppValid reports whether the resident application passed validation.
func (s *State) AppValid() bool {
	return s.appValid.Load()
}

func (s *State) setAppValid(ok bool) {
	s.appValid.Store(ok)
}

// Uptime returns the seconds counted by the uptime tick.
func (s *State) Uptime() uint32 {
	return s.uptime.Load()
}

// SentNodeInfo reports whether a GetNodeInfo response went out.
func (s *State) SentNodeInfo() bool {
	return s.sentNodeInfo.Load()
}

// Descriptor returns the descriptor found by the last validation, nil when
// the image had none.
func (s *State) Descriptor() *firmware.ApplicationDescriptor {
	return s.descriptor.Load()
}

func (s *State) setDescriptor(d *firmware.ApplicationDescriptor) {
	s.descriptor.Store(d)
}

// Status returns the health and mode advertised in NodeStatus.
func (s *State) Status() (health, mode uint8) {
	v := s.status.Load()
	return uint8(v >> 8), uint8(v)
}

func (s *State) setStatus(health, mode uint8) {
	s.status.Store(uint32(health)<<8 | uint32(mode))
}

func (s *State) setHealth(health uint8) {
	_, mode := s.Status()
	s.setStatus(health, mode)
}

func (s *State) setMode(mode uint8) {
	health, _ := s.Status()
	s.setStatus(health, mode)
}

// nodeStatus builds the NodeStatus broadcast payload fields.
func (s *State) nodeStatus() protocol.NodeStatus {
	health, mode := s.Status()
	return protocol.NodeStatus{
		UptimeSec: s.Uptime(),
		Health:    health,
		Mode:      mode,
	}
}
