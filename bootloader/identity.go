package bootloader

import (
	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

// uptimeProcess counts seconds. It runs from the tick.
func (b *Bootloader) uptimeProcess(timer.ID) {
	b.state.uptime.Add(1)
}

// nodeInfoProcess answers the GetNodeInfo requests queued since the last
// tick. It runs from the tick and never waits.
func (b *Bootloader) nodeInfoProcess(timer.ID) {
	if b.state.NodeID() == protocol.AnonymousNodeID {
		return
	}
	for {
		req, ok := b.receive(can.FIFONodeInfo)
		if !ok {
			return
		}
		if !req.Header.Is(protocol.KindRequest, protocol.GetNodeInfoID) {
			continue
		}
		payload, err := protocol.EncodeGetNodeInfoResponse(b.nodeInfo())
		if err != nil {
			b.logError("encode node info", "error", err)
			return
		}
		if err := b.respond(req, payload); err != nil {
			b.logError("node info response not sent", "to", req.Header.Source, "error", err)
			continue
		}
		if !b.state.SentNodeInfo() {
			b.logDebug("node info sent", "to", req.Header.Source)
		}
		b.state.sentNodeInfo.Store(true)
	}
}

// nodeInfo assembles the GetNodeInfo response. The software version is
// only advertised while the resident application is valid.
func (b *Bootloader) nodeInfo() *protocol.GetNodeInfoResponse {
	info := &protocol.GetNodeInfoResponse{
		Status:          b.state.nodeStatus(),
		HardwareVersion: b.hw.Board.HardwareVersion(),
		Name:            b.hw.Board.ProductName(),
	}
	if d := b.state.Descriptor(); d != nil && b.state.AppValid() {
		info.SoftwareVersion = protocol.SoftwareVersion{
			Major:              d.Major,
			Minor:              d.Minor,
			OptionalFieldFlags: protocol.SoftwareVersionFlagVCSCommit | protocol.SoftwareVersionFlagImageCRC,
			VCSCommit:          d.VCSCommit,
			ImageCRC:           d.ImageCRC,
		}
	}
	return info
}

// nodeStatusProcess broadcasts NodeStatus. It runs from the tick.
func (b *Bootloader) nodeStatusProcess(timer.ID) {
	if b.state.NodeID() == protocol.AnonymousNodeID {
		return
	}
	if err := b.broadcast(protocol.NodeStatusID, priorityStatus, protocol.EncodeNodeStatus(b.state.nodeStatus())); err != nil {
		b.logError("node status not sent", "error", err)
	}
}
