package usbip

import (
	"fmt"

	"github.com/bulwarkid/virtual-usb/util"
)

const (
	usbipVersion = 0x0111

	// Linux USB speed enumeration values used on the wire.
	speedFull uint32 = 2
	speedHigh uint32 = 3
)

type usbipDirection uint32

const (
	usbipDirOut usbipDirection = 0x0
	usbipDirIn  usbipDirection = 0x1
)

var usbipDirectionDescriptions = map[usbipDirection]string{
	usbipDirOut: "usbipDirOut",
	usbipDirIn:  "usbipDirIn",
}

type usbipControlCommand uint16

const (
	usbipCommandOpReqDevlist usbipControlCommand = 0x8005
	usbipCommandOpRepDevlist usbipControlCommand = 0x0005
	usbipCommandOpReqImport  usbipControlCommand = 0x8003
	usbipCommandOpRepImport  usbipControlCommand = 0x0003
)

var usbipControlCommandDescriptions = map[usbipControlCommand]string{
	usbipCommandOpReqDevlist: "usbipCommandOpReqDevlist",
	usbipCommandOpRepDevlist: "usbipCommandOpRepDevlist",
	usbipCommandOpReqImport:  "usbipCommandOpReqImport",
	usbipCommandOpRepImport:  "usbipCommandOpRepImport",
}

type usbipCommand uint32

const (
	usbipCmdSubmit usbipCommand = 0x1
	usbipCmdUnlink usbipCommand = 0x2
	usbipRetSubmit usbipCommand = 0x3
	usbipRetUnlink usbipCommand = 0x4
)

var usbipCommandDescriptions = map[usbipCommand]string{
	usbipCmdSubmit: "usbipCmdSubmit",
	usbipCmdUnlink: "usbipCmdUnlink",
	usbipRetSubmit: "usbipRetSubmit",
	usbipRetUnlink: "usbipRetUnlink",
}

// URB completion statuses reported back to the host kernel.
const (
	urbStatusOK         int32 = 0
	urbStatusStalled    int32 = -32  // -EPIPE
	urbStatusUnlinked   int32 = -104 // -ECONNRESET
	urbStatusNoEndpoint int32 = -2   // -ENOENT
)

type usbipControlHeader struct {
	Version     uint16
	CommandCode usbipControlCommand
	Status      uint32
}

func (header *usbipControlHeader) String() string {
	commandDesc, ok := usbipControlCommandDescriptions[header.CommandCode]
	if !ok {
		commandDesc = fmt.Sprintf("0x%x", uint16(header.CommandCode))
	}
	return fmt.Sprintf("usbipControlHeader{ Version: 0x%04x, Command: %s, Status: 0x%08x }",
		header.Version, commandDesc, header.Status)
}

type usbipOpRepDevlist struct {
	Header     usbipControlHeader
	NumDevices uint32
}

func newOpRepDevlist(numDevices uint32) usbipOpRepDevlist {
	return usbipOpRepDevlist{
		Header: usbipControlHeader{
			Version:     usbipVersion,
			CommandCode: usbipCommandOpRepDevlist,
			Status:      0,
		},
		NumDevices: numDevices,
	}
}

type usbipOpRepImport struct {
	Header usbipControlHeader
	Device usbipDeviceSummaryHeader
}

func newOpRepImport(device usbipDeviceSummaryHeader) usbipOpRepImport {
	return usbipOpRepImport{
		Header: usbipControlHeader{
			Version:     usbipVersion,
			CommandCode: usbipCommandOpRepImport,
			Status:      0,
		},
		Device: device,
	}
}

func newOpRepImportError() usbipControlHeader {
	return usbipControlHeader{
		Version:     usbipVersion,
		CommandCode: usbipCommandOpRepImport,
		Status:      1,
	}
}

type usbipDeviceSummaryHeader struct {
	Path                [256]byte
	BusID               [32]byte
	Busnum              uint32
	Devnum              uint32
	Speed               uint32
	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubclass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

func (summary *usbipDeviceSummaryHeader) String() string {
	return fmt.Sprintf(
		"usbipDeviceSummaryHeader{ Path: \"%s\", BusID: \"%s\", Busnum: %d, Devnum %d, IDVendor: 0x%04x, IDProduct: 0x%04x }",
		util.CStringToString(summary.Path[:]),
		util.CStringToString(summary.BusID[:]),
		summary.Busnum,
		summary.Devnum,
		summary.IDVendor,
		summary.IDProduct)
}

type usbipDeviceInterface struct {
	BInterfaceClass    uint8
	BInterfaceSubclass uint8
	BInterfaceProtocol uint8
	Padding            uint8
}

type usbipMessageHeader struct {
	Command        usbipCommand
	SequenceNumber uint32
	DeviceID       uint32
	Direction      usbipDirection
	Endpoint       uint32
}

func (header usbipMessageHeader) String() string {
	deviceID := fmt.Sprintf("%d-%d", header.DeviceID>>16, header.DeviceID&0xFF)
	commandDesc, ok := usbipCommandDescriptions[header.Command]
	if !ok {
		commandDesc = fmt.Sprintf("0x%x", uint32(header.Command))
	}
	directionDesc, ok := usbipDirectionDescriptions[header.Direction]
	if !ok {
		directionDesc = fmt.Sprintf("0x%x", uint32(header.Direction))
	}
	return fmt.Sprintf("usbipMessageHeader{ Command: %s, SequenceNumber: %d, DeviceID: %s, Direction: %s, Endpoint: %d }",
		commandDesc,
		header.SequenceNumber,
		deviceID,
		directionDesc,
		header.Endpoint)
}

type usbipCommandSubmitBody struct {
	TransferFlags        uint32
	TransferBufferLength uint32
	StartFrame           uint32
	NumberOfPackets      uint32
	Interval             uint32
	SetupBytes           [8]byte
}

func (body usbipCommandSubmitBody) String() string {
	return fmt.Sprintf(
		"usbipCommandSubmitBody{ TransferFlags: 0x%08x, TransferBufferLength: %d, StartFrame: %d, NumberOfPackets: %d, Interval: %d, Setup: %x }",
		body.TransferFlags,
		body.TransferBufferLength,
		body.StartFrame,
		body.NumberOfPackets,
		body.Interval,
		body.SetupBytes)
}

type usbipCommandUnlinkBody struct {
	UnlinkSequenceNumber uint32
	Padding              [24]byte
}

type usbipReturnSubmitBody struct {
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Padding         uint64
}

type usbipReturnUnlinkBody struct {
	Status  int32
	Padding [24]byte
}

func returnSubmitHeader(submitHeader usbipMessageHeader) usbipMessageHeader {
	return usbipMessageHeader{
		Command:        usbipRetSubmit,
		SequenceNumber: submitHeader.SequenceNumber,
		DeviceID:       0,
		Direction:      usbipDirOut,
		Endpoint:       0,
	}
}

func returnUnlinkHeader(unlinkHeader usbipMessageHeader) usbipMessageHeader {
	return usbipMessageHeader{
		Command:        usbipRetUnlink,
		SequenceNumber: unlinkHeader.SequenceNumber,
		DeviceID:       0,
		Direction:      usbipDirOut,
		Endpoint:       0,
	}
}
