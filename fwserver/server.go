// Package fwserver simulates the bus peers a bootloader talks to: a dynamic
// node id allocator and a firmware update server.
//
// The server is reactive. It is attached to a vcan.Bus as a frame handler and
// answers inside the sender's Send call:
//   - anonymous allocation requests are echoed until the whole unique id is
//     known, then a node id is granted
//   - a NodeStatus from an unknown or restarted node triggers GetNodeInfo
//   - a GetNodeInfo response without the served image's CRC triggers
//     BeginFirmwareUpdate
//   - file GetInfo and Read requests are served from the in-memory image
package fwserver

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/can/vcan"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// firstPoolID is where node id assignment starts; ids are handed out downwards.
const firstPoolID = 125

// Request is a service request the server received.
type Request struct {
	At         time.Time
	DataTypeID uint16
	Source     uint8

	// Offset is the file offset of a Read request.
	Offset uint64
}

// Node is what the server knows about a peer.
type Node struct {
	ID     uint8
	Status protocol.NodeStatus

	// Info is the last GetNodeInfo response, nil until one arrived.
	Info *protocol.GetNodeInfoResponse

	// UpdateRequested is set once BeginFirmwareUpdate was sent.
	UpdateRequested bool

	// UpdateAccepted is set when the node acknowledged the update request.
	UpdateAccepted bool
}

type tidKey struct {
	kind        protocol.Kind
	dataTypeID  uint16
	destination uint8
}

// Server is a simulated allocator and firmware server. It is safe for
// concurrent use.
type Server struct {
	mu     sync.Mutex
	config Config
	clock  timer.Clock
	log    *slog.Logger
	port   can.Driver
	rx     *protocol.Reassembler
	tids   map[tidKey]uint8

	descriptor *firmware.ApplicationDescriptor

	pending     []byte
	preferred   uint8
	allocations map[[protocol.UniqueIDLength]byte]uint8

	nodes      map[uint8]*Node
	requests   []Request
	logs       []protocol.LogMessage
	readErrors int
	readDrops  int
}

// New creates a server. A nil clock uses the system clock.
func New(clock timer.Clock, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if clock == nil {
		clock = timer.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		config:      cfg,
		clock:       clock,
		log:         logger.With("node", cfg.NodeID),
		rx:          protocol.NewReassembler(),
		tids:        make(map[tidKey]uint8),
		allocations: make(map[[protocol.UniqueIDLength]byte]uint8),
		nodes:       make(map[uint8]*Node),
		readErrors:  cfg.ReadErrors,
		readDrops:   cfg.DroppedReads,
	}
	if len(cfg.Image) > 0 {
		_, desc, err := firmware.LocateDescriptor(firmware.NewImage(0, cfg.Image))
		if err != nil {
			s.log.Warn("served image has no descriptor", "error", err)
		}
		s.descriptor = desc
	}
	return s
}

// Attach connects the server to bus and returns its port.
func (s *Server) Attach(bus *vcan.Bus) *vcan.Port {
	port := bus.Listen(s.HandleFrame)
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	return port
}

// NodeID returns the server's node id.
func (s *Server) NodeID() uint8 {
	return s.config.NodeID
}

// Allocations returns the granted node ids by unique id.
func (s *Server) Allocations() map[[protocol.UniqueIDLength]byte]uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[[protocol.UniqueIDLength]byte]uint8, len(s.allocations))
	for k, v := range s.allocations {
		out[k] = v
	}
	return out
}

// Node returns a copy of what the server knows about id.
func (s *Server) Node(id uint8) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Requests returns the service requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Logs returns the LogMessage broadcasts received so far.
func (s *Server) Logs() []protocol.LogMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.LogMessage, len(s.logs))
	copy(out, s.logs)
	return out
}

// HandleFrame consumes one frame from the bus.
func (s *Server) HandleFrame(f can.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := protocol.ParseHeader(f.ID)
	if h.Kind == protocol.KindAnonymous {
		if h.IsAllocation() {
			s.handleAllocation(f)
		}
		return
	}

	t, err := s.rx.Accept(f)
	if err != nil {
		s.log.Debug("frame dropped", "id", fmt.Sprintf("0x%08X", f.ID), "error", err)
		return
	}
	if t == nil {
		return
	}
	if t.Header.Kind.IsService() && t.Header.Destination != s.config.NodeID {
		return
	}

	switch {
	case t.Header.Is(protocol.KindMessage, protocol.NodeStatusID):
		s.handleNodeStatus(t)
	case t.Header.Is(protocol.KindMessage, protocol.LogMessageID):
		if m, err := protocol.ParseLogMessage(t.Payload); err == nil {
			s.logs = append(s.logs, *m)
			s.log.Info("node log", "from", t.Header.Source, "source", m.Source, "text", m.Text)
		}
	case t.Header.Is(protocol.KindResponse, protocol.GetNodeInfoID):
		s.handleNodeInfo(t)
	case t.Header.Is(protocol.KindResponse, protocol.BeginFirmwareUpdateID):
		if r, err := protocol.ParseBeginFirmwareUpdateResponse(t.Payload); err == nil {
			if n := s.nodes[t.Header.Source]; n != nil {
				n.UpdateAccepted = r.Error == protocol.UpdateErrorOK
			}
		}
	case t.Header.Is(protocol.KindRequest, protocol.GetInfoID):
		s.record(t, 0)
		s.serveGetInfo(t)
	case t.Header.Is(protocol.KindRequest, protocol.ReadID):
		s.serveRead(t)
	}
}

func (s *Server) record(t *protocol.Transfer, offset uint64) {
	s.requests = append(s.requests, Request{
		At:         s.clock.Now(),
		DataTypeID: t.Header.DataTypeID,
		Source:     t.Header.Source,
		Offset:     offset,
	})
}

// handleAllocation implements the allocator side of dynamic node id
// allocation. The unique id is collected over up to three requests; every
// partial id is echoed back so the allocatee can send the next part.
func (s *Server) handleAllocation(f can.Frame) {
	data, _, err := protocol.SplitFrame(f)
	if err != nil {
		return
	}
	a, err := protocol.ParseAllocation(data)
	if err != nil {
		s.log.Debug("malformed allocation request", "error", err)
		return
	}

	if a.FirstPartOfUniqueID {
		s.pending = append(s.pending[:0], a.UniqueID...)
		s.preferred = a.NodeID
	} else {
		if len(s.pending) == 0 {
			return
		}
		s.pending = append(s.pending, a.UniqueID...)
	}
	if len(s.pending) > protocol.UniqueIDLength {
		s.pending = s.pending[:0]
		return
	}

	reply := &protocol.Allocation{UniqueID: s.tamper(s.pending)}
	if len(s.pending) == protocol.UniqueIDLength {
		var uid [protocol.UniqueIDLength]byte
		copy(uid[:], s.pending)
		id, ok := s.assign(uid)
		if !ok {
			s.log.Warn("node id pool exhausted")
			return
		}
		reply.NodeID = id
		s.pending = s.pending[:0]
		s.log.Info("node id granted", "node_id", id, "unique_id", fmt.Sprintf("%X", uid))
	}

	payload, err := protocol.EncodeAllocation(reply)
	if err == nil {
		err = s.broadcast(protocol.AllocationID, payload)
	}
	if err != nil {
		s.log.Error("allocation reply not sent", "error", err)
	}
}

func (s *Server) tamper(uid []byte) []byte {
	out := make([]byte, len(uid))
	copy(out, uid)
	if i := s.config.TamperIndex; i >= 0 && i < len(out) {
		out[i] ^= 0xFF
	}
	return out
}

// assign returns the node id for uid: the previous grant, else the preferred
// id when free, else the highest free id of the pool.
func (s *Server) assign(uid [protocol.UniqueIDLength]byte) (uint8, bool) {
	if id, ok := s.allocations[uid]; ok {
		return id, true
	}
	used := map[uint8]bool{s.config.NodeID: true}
	for _, id := range s.allocations {
		used[id] = true
	}
	id := uint8(0)
	if p := s.preferred; p != 0 && p <= protocol.MaxNodeID && !used[p] {
		id = p
	}
	for candidate := uint8(firstPoolID); id == 0 && candidate > 0; candidate-- {
		if !used[candidate] {
			id = candidate
		}
	}
	if id == 0 {
		return 0, false
	}
	s.allocations[uid] = id
	return id, true
}

func (s *Server) handleNodeStatus(t *protocol.Transfer) {
	st, err := protocol.ParseNodeStatus(t.Payload)
	if err != nil {
		return
	}
	src := t.Header.Source
	n := s.nodes[src]
	if n == nil || st.UptimeSec < n.Status.UptimeSec {
		n = &Node{ID: src}
		s.nodes[src] = n
		s.log.Info("node appeared", "node_id", src, "uptime", st.UptimeSec)
		if _, err := s.request(protocol.GetNodeInfoID, src, nil); err != nil {
			s.log.Error("node info request not sent", "node_id", src, "error", err)
		}
	}
	n.Status = *st
}

func (s *Server) handleNodeInfo(t *protocol.Transfer) {
	info, err := protocol.ParseGetNodeInfoResponse(t.Payload)
	if err != nil {
		s.log.Debug("malformed node info", "error", err)
		return
	}
	src := t.Header.Source
	n := s.nodes[src]
	if n == nil {
		n = &Node{ID: src}
		s.nodes[src] = n
	}
	n.Info = info
	if n.UpdateRequested || !s.needsUpdate(info) {
		return
	}

	payload, err := protocol.EncodeBeginFirmwareUpdateRequest(&protocol.BeginFirmwareUpdateRequest{
		SourceNodeID: s.config.NodeID,
		Path:         []byte(s.config.Path),
	})
	if err == nil {
		_, err = s.request(protocol.BeginFirmwareUpdateID, src, payload)
	}
	if err != nil {
		s.log.Error("update request not sent", "node_id", src, "error", err)
		return
	}
	n.UpdateRequested = true
	s.log.Info("update requested", "node_id", src, "path", s.config.Path)
}

func (s *Server) needsUpdate(info *protocol.GetNodeInfoResponse) bool {
	if len(s.config.Image) == 0 {
		return false
	}
	if s.config.ForceUpdate || s.descriptor == nil {
		return true
	}
	sw := info.SoftwareVersion
	if sw.OptionalFieldFlags&protocol.SoftwareVersionFlagImageCRC == 0 {
		return true
	}
	return sw.ImageCRC != s.descriptor.ImageCRC
}

func (s *Server) serveGetInfo(t *protocol.Transfer) {
	path, err := protocol.ParseGetInfoRequest(t.Payload)
	if err != nil {
		return
	}
	resp := &protocol.GetInfoResponse{Error: protocol.FileErrorNotFound}
	if len(s.config.Image) > 0 && string(path) == s.config.Path {
		resp.Error = protocol.FileErrorOK
		resp.EntryType = protocol.EntryTypeFile | protocol.EntryTypeReadable
		resp.Size = uint64(len(s.config.Image))
		if s.config.ReportedSize != 0 {
			resp.Size = s.config.ReportedSize
		}
	}
	if err := s.respond(t, protocol.EncodeGetInfoResponse(resp)); err != nil {
		s.log.Error("get info response not sent", "error", err)
	}
}

func (s *Server) serveRead(t *protocol.Transfer) {
	req, err := protocol.ParseReadRequest(t.Payload)
	if err != nil {
		return
	}
	s.record(t, req.Offset)

	if s.readDrops > 0 {
		s.readDrops--
		return
	}
	resp := &protocol.ReadResponse{}
	switch {
	case s.readErrors > 0:
		s.readErrors--
		resp.Error = protocol.FileErrorIOError
	case len(s.config.Image) == 0 || string(req.Path) != s.config.Path:
		resp.Error = protocol.FileErrorNotFound
	case req.Offset < uint64(len(s.config.Image)):
		end := req.Offset + protocol.MaxReadDataLength
		if end > uint64(len(s.config.Image)) {
			end = uint64(len(s.config.Image))
		}
		resp.Data = s.config.Image[req.Offset:end]
	}

	payload, err := protocol.EncodeReadResponse(resp)
	if err == nil {
		err = s.respond(t, payload)
	}
	if err != nil {
		s.log.Error("read response not sent", "offset", req.Offset, "error", err)
	}
}

func (s *Server) nextTID(k tidKey) uint8 {
	tid := s.tids[k]
	s.tids[k] = (tid + 1) & protocol.MaxTransferID
	return tid
}

func (s *Server) send(h protocol.Header, tid uint8, payload []byte) error {
	if s.port == nil {
		return fmt.Errorf("server %d is not attached", s.config.NodeID)
	}
	frames, err := protocol.EncodeTransfer(h, tid, payload)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := s.port.Send(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) broadcast(dataTypeID uint16, payload []byte) error {
	h := protocol.Header{
		Priority:   protocol.PriorityLow,
		Kind:       protocol.KindMessage,
		DataTypeID: dataTypeID,
		Source:     s.config.NodeID,
	}
	return s.send(h, s.nextTID(tidKey{kind: protocol.KindMessage, dataTypeID: dataTypeID}), payload)
}

func (s *Server) request(dataTypeID uint16, destination uint8, payload []byte) (uint8, error) {
	h := protocol.Header{
		Priority:    protocol.PriorityMedium,
		Kind:        protocol.KindRequest,
		DataTypeID:  dataTypeID,
		Source:      s.config.NodeID,
		Destination: destination,
	}
	tid := s.nextTID(tidKey{kind: protocol.KindRequest, dataTypeID: dataTypeID, destination: destination})
	return tid, s.send(h, tid, payload)
}

func (s *Server) respond(req *protocol.Transfer, payload []byte) error {
	h := protocol.Header{
		Priority:    req.Header.Priority,
		Kind:        protocol.KindResponse,
		DataTypeID:  req.Header.DataTypeID,
		Source:      s.config.NodeID,
		Destination: req.Header.Source,
	}
	return s.send(h, req.TransferID, payload)
}
