package usb

import (
	"fmt"

	"github.com/bulwarkid/virtual-usb/util"
)

type EndpointType uint8

const (
	EndpointTypeControl     EndpointType = 0
	EndpointTypeIsochronous EndpointType = 1
	EndpointTypeBulk        EndpointType = 2
	EndpointTypeInterrupt   EndpointType = 3
)

var endpointTypeDescriptions = map[EndpointType]string{
	EndpointTypeControl:     "EndpointTypeControl",
	EndpointTypeIsochronous: "EndpointTypeIsochronous",
	EndpointTypeBulk:        "EndpointTypeBulk",
	EndpointTypeInterrupt:   "EndpointTypeInterrupt",
}

func (epType EndpointType) String() string {
	if s, ok := endpointTypeDescriptions[epType]; ok {
		return s
	}
	return "Invalid"
}

type EndpointState uint8

const (
	EndpointStateClosed EndpointState = 0
	EndpointStateIdle   EndpointState = 1
	EndpointStateStall  EndpointState = 2
	EndpointStateSetup  EndpointState = 3
	EndpointStateData   EndpointState = 4
	EndpointStateStatus EndpointState = 5
)

var endpointStateDescriptions = map[EndpointState]string{
	EndpointStateClosed: "EndpointStateClosed",
	EndpointStateIdle:   "EndpointStateIdle",
	EndpointStateStall:  "EndpointStateStall",
	EndpointStateSetup:  "EndpointStateSetup",
	EndpointStateData:   "EndpointStateData",
	EndpointStateStatus: "EndpointStateStatus",
}

func (state EndpointState) String() string {
	if s, ok := endpointStateDescriptions[state]; ok {
		return s
	}
	return "Invalid"
}

// Endpoint addresses are 7-bit endpoint numbers with direction in the
// top bit. IN and OUT records live in separate tables so that the
// bidirectional control endpoint has one record per direction.
const DirectionInBit uint8 = 0x80

func EndpointNumber(addr uint8) uint8 {
	return addr & 0x0F
}

func EndpointDirection(addr uint8) Direction {
	if addr&DirectionInBit != 0 {
		return DirectionIn
	}
	return DirectionOut
}

type endpointTransfer struct {
	data     []byte
	length   int
	progress int
}

// Endpoint holds the transfer state of one direction-scoped endpoint.
// Transfer fields are only meaningful while State is Data or Status.
type Endpoint struct {
	transfer      endpointTransfer
	MaxPacketSize uint16
	Type          EndpointType
	State         EndpointState
	addr          uint8
	ifNum         uint8
}

// Addr returns the endpoint's bus address including the direction bit.
func (ep *Endpoint) Addr() uint8 {
	return ep.addr
}

// Transferred returns the byte count of the last completed transfer.
func (ep *Endpoint) Transferred() int {
	return ep.transfer.progress
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("Endpoint{ Addr: 0x%02x, Type: %s, State: %s, MaxPacketSize: %d }",
		ep.addr, ep.Type, ep.State, ep.MaxPacketSize)
}

func (ep *Endpoint) setTransfer(data []byte, length int) {
	ep.transfer.data = data
	ep.transfer.length = length
	ep.transfer.progress = 0
}

// endpointRef maps an endpoint address to its record, or nil when the
// number is out of table range.
func (device *Device) endpointRef(addr uint8) *Endpoint {
	num := EndpointNumber(addr)
	if num >= MaxEndpoints {
		return nil
	}
	if addr&DirectionInBit != 0 {
		return &device.epIn[num]
	}
	return &device.epOut[num]
}

// EpOpen readies an endpoint for transfers, allocating any port
// resources for the address/type/packet size combination.
func (device *Device) EpOpen(addr uint8, epType EndpointType, maxPacketSize uint16) error {
	ep := device.endpointRef(addr)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	if err := device.port.EpOpen(addr, epType, maxPacketSize); err != nil {
		return err
	}
	ep.Type = epType
	ep.MaxPacketSize = maxPacketSize
	ep.State = EndpointStateIdle
	return nil
}

// EpClose shuts the endpoint down from any state. A pending transfer is
// abandoned without completion.
func (device *Device) EpClose(addr uint8) error {
	ep := device.endpointRef(addr)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	err := device.port.EpClose(addr)
	ep.State = EndpointStateClosed
	ep.setTransfer(nil, 0)
	return err
}

// EpFlush discards buffered endpoint data in the port and returns the
// endpoint to Idle.
func (device *Device) EpFlush(addr uint8) error {
	ep := device.endpointRef(addr)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	err := device.port.EpFlush(addr)
	ep.State = EndpointStateIdle
	return err
}

// EpSend starts an IN transfer. Only an Idle endpoint accepts a new
// transfer; isochronous endpoints accept unconditionally since their
// cadence is owned by the class.
func (device *Device) EpSend(addr uint8, data []byte) error {
	ep := device.endpointRef(addr | DirectionInBit)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	if ep.State != EndpointStateIdle && ep.Type != EndpointTypeIsochronous {
		return ErrBusy
	}
	ep.State = EndpointStateData
	ep.setTransfer(data, len(data))
	return device.port.EpSend(addr|DirectionInBit, data)
}

// EpReceive arms an OUT transfer into buffer. The buffer is owned by
// the caller until the completion callback fires.
func (device *Device) EpReceive(addr uint8, buffer []byte) error {
	ep := device.endpointRef(EndpointNumber(addr))
	if ep == nil {
		return ErrInvalidEndpoint
	}
	if ep.State != EndpointStateIdle && ep.Type != EndpointTypeIsochronous {
		return ErrBusy
	}
	ep.State = EndpointStateData
	ep.setTransfer(buffer, len(buffer))
	return device.port.EpReceive(EndpointNumber(addr), buffer)
}

// EpSetStall halts the endpoint, both for protocol errors and
// class-requested halting.
func (device *Device) EpSetStall(addr uint8) error {
	ep := device.endpointRef(addr)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	err := device.port.EpSetStall(addr)
	ep.State = EndpointStateStall
	return err
}

// EpClearStall returns a halted endpoint to Idle.
func (device *Device) EpClearStall(addr uint8) error {
	ep := device.endpointRef(addr)
	if ep == nil {
		return ErrInvalidEndpoint
	}
	err := device.port.EpClearStall(addr)
	ep.State = EndpointStateIdle
	return err
}

// TransferIn is the port's completion event for an IN endpoint
// transfer. For EP0 it advances the control transfer state machine;
// for class endpoints it notifies the owning interface.
func (device *Device) TransferIn(addr uint8) {
	ep := device.endpointRef(addr | DirectionInBit)
	if ep == nil || ep.State == EndpointStateClosed {
		return
	}
	ep.transfer.progress = ep.transfer.length
	if EndpointNumber(addr) == 0 {
		device.ctrlInDone()
		return
	}
	ep.State = EndpointStateIdle
	device.interfaceAt(ep.ifNum).inData(ep)
}

// TransferOut is the port's completion event for an OUT endpoint
// transfer; received is the byte count actually delivered.
func (device *Device) TransferOut(addr uint8, received int) {
	ep := device.endpointRef(EndpointNumber(addr))
	if ep == nil || ep.State == EndpointStateClosed {
		return
	}
	ep.transfer.progress = received
	ep.State = EndpointStateIdle
	if EndpointNumber(addr) == 0 {
		device.ctrlOutDone()
		return
	}
	device.interfaceAt(ep.ifNum).outData(ep)
}

// endpointRequest handles standard requests with an endpoint recipient.
// Only endpoints of the active configuration are valid targets.
func (device *Device) endpointRequest() error {
	epAddr := uint8(device.setup.WIndex)
	epNum := EndpointNumber(epAddr)
	if epNum >= MaxEndpoints || epNum == 0 || device.configSelector == 0 {
		return ErrInvalid
	}
	if device.setup.Class() != RequestClassStandard {
		// Class and vendor requests are promoted to interface level.
		return ErrInvalid
	}
	ep := device.endpointRef(epAddr)

	switch device.setup.BRequest {
	case RequestSetFeature:
		// Endpoint halt is the only standard endpoint feature.
		if device.setup.WValue != FeatureEndpointHalt {
			return ErrInvalid
		}
		if ep.State != EndpointStateStall {
			device.EpSetStall(epAddr)
		}
		return nil

	case RequestClearFeature:
		if device.setup.WValue != FeatureEndpointHalt {
			return ErrInvalid
		}
		if ep.State == EndpointStateStall {
			device.EpClearStall(epAddr)
			// Notify the interface of the ready endpoint with a
			// zero-length completion so halted pipelines restart.
			ep.setTransfer(nil, 0)
			if EndpointDirection(epAddr) == DirectionIn {
				device.interfaceAt(ep.ifNum).inData(ep)
			} else {
				device.interfaceAt(ep.ifNum).outData(ep)
			}
		}
		return nil

	case RequestGetStatus:
		var status uint16
		if ep.State == EndpointStateStall {
			status = 1 << FeatureEndpointHalt
		}
		copy(device.ctrlData[:], util.ToLE(status))
		return device.CtrlSendData(device.ctrlData[:2])

	default:
		return ErrInvalid
	}
}
