package usb

import (
	"bytes"
	"fmt"

	"github.com/bulwarkid/virtual-usb/util"
)

type Request uint8

const (
	RequestGetStatus        Request = 0
	RequestClearFeature     Request = 1
	RequestSetFeature       Request = 3
	RequestSetAddress       Request = 5
	RequestGetDescriptor    Request = 6
	RequestSetDescriptor    Request = 7
	RequestGetConfiguration Request = 8
	RequestSetConfiguration Request = 9
	RequestGetInterface     Request = 10
	RequestSetInterface     Request = 11
	RequestSynchFrame       Request = 12
)

var standardRequestDescriptions = map[Request]string{
	RequestGetStatus:        "RequestGetStatus",
	RequestClearFeature:     "RequestClearFeature",
	RequestSetFeature:       "RequestSetFeature",
	RequestSetAddress:       "RequestSetAddress",
	RequestGetDescriptor:    "RequestGetDescriptor",
	RequestSetDescriptor:    "RequestSetDescriptor",
	RequestGetConfiguration: "RequestGetConfiguration",
	RequestSetConfiguration: "RequestSetConfiguration",
	RequestGetInterface:     "RequestGetInterface",
	RequestSetInterface:     "RequestSetInterface",
	RequestSynchFrame:       "RequestSynchFrame",
}

type DescriptorType uint8

const (
	DescriptorTypeDevice           DescriptorType = 1
	DescriptorTypeConfiguration    DescriptorType = 2
	DescriptorTypeString           DescriptorType = 3
	DescriptorTypeInterface        DescriptorType = 4
	DescriptorTypeEndpoint         DescriptorType = 5
	DescriptorTypeDeviceQualifier  DescriptorType = 6
	DescriptorTypeOtherSpeedConfig DescriptorType = 7
	DescriptorTypeInterfacePower   DescriptorType = 8
	DescriptorTypeAssociation      DescriptorType = 11
	DescriptorTypeBOS              DescriptorType = 15
	DescriptorTypeCapability       DescriptorType = 16
)

var descriptorTypeDescriptions = map[DescriptorType]string{
	DescriptorTypeDevice:           "DescriptorTypeDevice",
	DescriptorTypeConfiguration:    "DescriptorTypeConfiguration",
	DescriptorTypeString:           "DescriptorTypeString",
	DescriptorTypeInterface:        "DescriptorTypeInterface",
	DescriptorTypeEndpoint:         "DescriptorTypeEndpoint",
	DescriptorTypeDeviceQualifier:  "DescriptorTypeDeviceQualifier",
	DescriptorTypeOtherSpeedConfig: "DescriptorTypeOtherSpeedConfig",
	DescriptorTypeInterfacePower:   "DescriptorTypeInterfacePower",
	DescriptorTypeAssociation:      "DescriptorTypeAssociation",
	DescriptorTypeBOS:              "DescriptorTypeBOS",
	DescriptorTypeCapability:       "DescriptorTypeCapability",
}

func (descriptor DescriptorType) String() string {
	if s, ok := descriptorTypeDescriptions[descriptor]; ok {
		return s
	}
	return "Invalid"
}

type Direction uint8

const (
	DirectionOut Direction = 0
	DirectionIn  Direction = 1
)

var directionDescriptions = map[Direction]string{
	DirectionOut: "DirectionOut",
	DirectionIn:  "DirectionIn",
}

type RequestClass uint8

const (
	RequestClassStandard RequestClass = 0
	RequestClassClass    RequestClass = 1
	RequestClassVendor   RequestClass = 2
	RequestClassReserved RequestClass = 3
)

var requestClassDescriptions = map[RequestClass]string{
	RequestClassStandard: "RequestClassStandard",
	RequestClassClass:    "RequestClassClass",
	RequestClassVendor:   "RequestClassVendor",
	RequestClassReserved: "RequestClassReserved",
}

type RequestRecipient uint8

const (
	RequestRecipientDevice    RequestRecipient = 0
	RequestRecipientInterface RequestRecipient = 1
	RequestRecipientEndpoint  RequestRecipient = 2
	RequestRecipientOther     RequestRecipient = 3
)

var requestRecipientDescriptions = map[RequestRecipient]string{
	RequestRecipientDevice:    "RequestRecipientDevice",
	RequestRecipientInterface: "RequestRecipientInterface",
	RequestRecipientEndpoint:  "RequestRecipientEndpoint",
	RequestRecipientOther:     "RequestRecipientOther",
}

// Standard feature selectors (USB 2.0 Table 9-6).
const (
	FeatureEndpointHalt uint16 = 0
	FeatureRemoteWakeup uint16 = 1
	FeatureTestMode     uint16 = 2
)

type Speed uint8

const (
	SpeedFull Speed = 0
	SpeedHigh Speed = 1
	SpeedLow  Speed = 2
)

var speedDescriptions = map[Speed]string{
	SpeedFull: "SpeedFull",
	SpeedHigh: "SpeedHigh",
	SpeedLow:  "SpeedLow",
}

func (speed Speed) String() string {
	if s, ok := speedDescriptions[speed]; ok {
		return s
	}
	return "Invalid"
}

// LinkState tracks the bus power state reported by the peripheral port.
type LinkState uint8

const (
	LinkStateOff     LinkState = 0
	LinkStateActive  LinkState = 1
	LinkStateSuspend LinkState = 2
)

const (
	ConfigAttributeBase         = 0b10000000
	ConfigAttributeSelfPowered  = 0b01000000
	ConfigAttributeRemoteWakeup = 0b00100000

	LangIDEngUSA uint16 = 0x0409
)

// SetupRequest is the decoded 8-byte control transfer header. It stays
// valid for the duration of one control transfer and is overwritten by
// the next SETUP packet.
type SetupRequest struct {
	BmRequestType uint8
	BRequest      Request
	WValue        uint16
	WIndex        uint16
	WLength       uint16
}

const setupRequestSize = 8

func decodeSetupRequest(raw [8]byte) SetupRequest {
	return util.FromLE[SetupRequest](raw[:])
}

func (setup *SetupRequest) Direction() Direction {
	return Direction((setup.BmRequestType >> 7) & 1)
}

func (setup *SetupRequest) SetDirection(direction Direction) {
	setup.BmRequestType &= ^(uint8(1) << 7)
	setup.BmRequestType |= (uint8(direction) << 7)
}

func (setup *SetupRequest) Class() RequestClass {
	return RequestClass((setup.BmRequestType >> 5) & 0b11)
}

func (setup *SetupRequest) SetClass(class RequestClass) {
	setup.BmRequestType &= ^(uint8(0b11) << 5)
	setup.BmRequestType |= uint8(class) << 5
}

func (setup *SetupRequest) Recipient() RequestRecipient {
	return RequestRecipient(setup.BmRequestType & 0b11111)
}

func (setup *SetupRequest) SetRecipient(recipient RequestRecipient) {
	setup.BmRequestType &= ^uint8(0b11111)
	setup.BmRequestType |= uint8(recipient)
}

func (setup SetupRequest) String() string {
	requestDescription, ok := standardRequestDescriptions[setup.BRequest]
	if !ok || setup.Class() != RequestClassStandard {
		requestDescription = fmt.Sprintf("0x%x", uint8(setup.BRequest))
	}
	return fmt.Sprintf("SetupRequest{ Direction: %s, Class: %s, Recipient: %s, BRequest: %s, WValue: 0x%x, WIndex: %d, WLength: %d }",
		directionDescriptions[setup.Direction()],
		requestClassDescriptions[setup.Class()],
		requestRecipientDescriptions[setup.Recipient()],
		requestDescription,
		setup.WValue,
		setup.WIndex,
		setup.WLength)
}

func (setup *SetupRequest) descriptorTypeAndIndex() (DescriptorType, uint8) {
	return DescriptorType(setup.WValue >> 8), uint8(setup.WValue & 0xFF)
}

type DeviceDescriptor struct {
	BLength            uint8
	BDescriptorType    DescriptorType
	BcdUSB             uint16
	BDeviceClass       uint8
	BDeviceSubclass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize     uint8
	IDVendor           uint16
	IDProduct          uint16
	BcdDevice          uint16
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
}

type ConfigurationDescriptor struct {
	BLength             uint8
	BDescriptorType     DescriptorType
	WTotalLength        uint16
	BNumInterfaces      uint8
	BConfigurationValue uint8
	IConfiguration      uint8
	BmAttributes        uint8
	BMaxPower           uint8
}

type InterfaceDescriptor struct {
	BLength            uint8
	BDescriptorType    DescriptorType
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubclass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

// InterfaceAssociationDescriptor groups consecutive interfaces into one
// function for composite devices (USB IAD ECN).
type InterfaceAssociationDescriptor struct {
	BLength           uint8
	BDescriptorType   DescriptorType
	BFirstInterface   uint8
	BInterfaceCount   uint8
	BFunctionClass    uint8
	BFunctionSubclass uint8
	BFunctionProtocol uint8
	IFunction         uint8
}

type EndpointDescriptor struct {
	BLength          uint8
	BDescriptorType  DescriptorType
	BEndpointAddress uint8
	BmAttributes     uint8
	WMaxPacketSize   uint16
	BInterval        uint8
}

type DeviceQualifierDescriptor struct {
	BLength            uint8
	BDescriptorType    DescriptorType
	BcdUSB             uint16
	BDeviceClass       uint8
	BDeviceSubclass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize     uint8
	BNumConfigurations uint8
	BReserved          uint8
}

type bosDescriptor struct {
	BLength         uint8
	BDescriptorType DescriptorType
	WTotalLength    uint16
	BNumDeviceCaps  uint8
}

const capabilityTypeUSB2Ext uint8 = 2

type deviceCapabilityDescriptor struct {
	BLength            uint8
	BDescriptorType    DescriptorType
	BDevCapabilityType uint8
	BmAttributes       uint32
}

type stringDescriptorHeader struct {
	BLength         uint8
	BDescriptorType DescriptorType
}

// stringDescriptor expands ASCII (or any Go string) into the wire's
// UTF-16LE form with the 2-byte descriptor header.
func stringDescriptor(message string) []byte {
	payload := util.Utf16encode(message)
	header := stringDescriptorHeader{
		BLength:         uint8(2 + len(payload)),
		BDescriptorType: DescriptorTypeString,
	}
	return util.Concat(util.ToLE(header), payload)
}

// bcdStringDescriptor expands packed BCD bytes into a hex digit string
// descriptor, used for serial numbers stored as raw BCD.
func bcdStringDescriptor(bcd []byte) []byte {
	digits := new(bytes.Buffer)
	for _, b := range bcd {
		digits.WriteByte(hexDigit(b >> 4))
		digits.WriteByte(hexDigit(b & 0xF))
	}
	return stringDescriptor(digits.String())
}

func hexDigit(nibble byte) byte {
	if nibble < 10 {
		return '0' + nibble
	}
	return 'A' + nibble - 10
}
