package hid

import (
	"github.com/bulwarkid/virtual-usb/usb"
	"github.com/bulwarkid/virtual-usb/util"
)

var hidLogger = util.NewLogger("[HID] ", util.LogLevelDebug)

// HID class-specific request codes.
type hidRequest uint8

const (
	hidRequestGetReport   hidRequest = 0x01
	hidRequestGetIdle     hidRequest = 0x02
	hidRequestGetProtocol hidRequest = 0x03
	hidRequestSetReport   hidRequest = 0x09
	hidRequestSetIdle     hidRequest = 0x0A
	hidRequestSetProtocol hidRequest = 0x0B
)

var hidRequestDescriptions = map[hidRequest]string{
	hidRequestGetReport:   "hidRequestGetReport",
	hidRequestGetIdle:     "hidRequestGetIdle",
	hidRequestGetProtocol: "hidRequestGetProtocol",
	hidRequestSetReport:   "hidRequestSetReport",
	hidRequestSetIdle:     "hidRequestSetIdle",
	hidRequestSetProtocol: "hidRequestSetProtocol",
}

// HID class descriptor types.
const (
	descriptorTypeHID    usb.DescriptorType = 0x21
	descriptorTypeReport usb.DescriptorType = 0x22
)

const (
	interfaceClassHID uint8 = 0x03

	protocolBoot   uint8 = 1
	protocolReport uint8 = 0
)

type hidDescriptor struct {
	BLength              uint8
	BDescriptorType      usb.DescriptorType
	BcdHID               uint16
	BCountryCode         uint8
	BNumDescriptors      uint8
	BClassDescriptorType usb.DescriptorType
	WDescriptorLength    uint16
}

// Config declares one HID function: its report descriptor, the
// interrupt IN endpoint it reports on, and the polling cadence.
type Config struct {
	ReportDescriptor []byte

	// InEpAddr is the endpoint number for the interrupt IN endpoint;
	// the direction bit is implied.
	InEpAddr      uint8
	MaxPacketSize uint16
	IntervalMS    uint32

	// Subclass/Protocol select boot-interface behavior (keyboards and
	// mice); zero means a plain report device.
	Subclass uint8
	Protocol uint8

	// FunctionName labels the interface in host device listings.
	FunctionName string
}

// HID is one mounted human interface device function.
type HID struct {
	itf    usb.Interface
	config Config

	idleRate uint8
	protocol uint8

	// OnOutputReport receives host-to-device reports arriving via
	// SET_REPORT. Optional.
	OnOutputReport func(report []byte)

	// InputReport provides the report returned for GET_REPORT polls.
	// Optional; absent means GET_REPORT is rejected.
	InputReport func() []byte
}

var hidClass = usb.Class{
	GetDescriptor: hidGetDescriptor,
	GetString:     hidGetString,
	Init:          hidInit,
	Deinit:        hidDeinit,
	SetupStage:    hidSetupStage,
	DataStage:     hidDataStage,
	InData:        hidInData,
	CompatibleID:  "HID",
}

func New(config Config) *HID {
	if config.MaxPacketSize == 0 {
		config.MaxPacketSize = 64
	}
	if config.IntervalMS == 0 {
		config.IntervalMS = 1
	}
	hid := &HID{
		config:   config,
		protocol: protocolReport,
	}
	hid.itf.Class = &hidClass
	hid.itf.SetContext(hid)
	return hid
}

// Mount claims one interface slot and the interrupt IN endpoint on the
// device. Call before Connect.
func (hid *HID) Mount(device *usb.Device) error {
	return device.Mount(&hid.itf, 1, usb.EndpointConfig{
		Addr:          hid.inEpAddr(),
		Type:          usb.EndpointTypeInterrupt,
		MaxPacketSize: hid.config.MaxPacketSize,
	})
}

// SendReport queues one input report on the interrupt endpoint.
// Returns usb.ErrBusy while the previous report is still in flight.
// Safe to call from any goroutine.
func (hid *HID) SendReport(report []byte) error {
	var err error
	hid.itf.Device.Do(func() {
		err = hid.itf.Device.EpSend(hid.inEpAddr(), report)
	})
	return err
}

func (hid *HID) inEpAddr() uint8 {
	return hid.config.InEpAddr | usb.DirectionInBit
}

func fromInterface(itf *usb.Interface) *HID {
	return itf.Context().(*HID)
}

func hidInit(itf *usb.Interface) {
	hid := fromInterface(itf)
	hid.idleRate = 0
	hid.protocol = protocolReport
	itf.Device.EpOpen(hid.inEpAddr(), usb.EndpointTypeInterrupt, hid.config.MaxPacketSize)
}

func hidDeinit(itf *usb.Interface) {
	hid := fromInterface(itf)
	itf.Device.EpClose(hid.inEpAddr())
}

func hidGetDescriptor(itf *usb.Interface, ifNum uint8, dest []byte) int {
	hid := fromInterface(itf)
	stringIndex := uint8(0)
	if hid.config.FunctionName != "" {
		stringIndex = usb.InterfaceStringIndex(ifNum, 0)
	}
	descriptors := util.Concat(
		util.ToLE(usb.InterfaceDescriptor{
			BLength:            util.SizeOf[usb.InterfaceDescriptor](),
			BDescriptorType:    usb.DescriptorTypeInterface,
			BInterfaceNumber:   ifNum,
			BAlternateSetting:  0,
			BNumEndpoints:      1,
			BInterfaceClass:    interfaceClassHID,
			BInterfaceSubclass: hid.config.Subclass,
			BInterfaceProtocol: hid.config.Protocol,
			IInterface:         stringIndex,
		}),
		hid.hidDescriptor(),
		itf.Device.EndpointDescriptorFor(hid.inEpAddr(), usb.HighSpeedInterval(hid.config.IntervalMS)),
	)
	return copy(dest, descriptors)
}

func (hid *HID) hidDescriptor() []byte {
	return util.ToLE(hidDescriptor{
		BLength:              util.SizeOf[hidDescriptor](),
		BDescriptorType:      descriptorTypeHID,
		BcdHID:               0x0111,
		BCountryCode:         0,
		BNumDescriptors:      1,
		BClassDescriptorType: descriptorTypeReport,
		WDescriptorLength:    uint16(len(hid.config.ReportDescriptor)),
	})
}

func hidGetString(itf *usb.Interface, localIndex uint8) string {
	hid := fromInterface(itf)
	if localIndex == 0 {
		return hid.config.FunctionName
	}
	return ""
}

// hidSetupStage serves the class control protocol: report descriptor
// reads plus the idle, protocol and report requests.
func hidSetupStage(itf *usb.Interface) error {
	hid := fromInterface(itf)
	device := itf.Device
	setup := device.Request()

	if setup.Class() == usb.RequestClassStandard {
		// GET_DESCRIPTOR for the class descriptors is sent with a
		// standard request type but an interface recipient.
		if setup.BRequest != usb.RequestGetDescriptor {
			return usb.ErrInvalid
		}
		switch usb.DescriptorType(setup.WValue >> 8) {
		case descriptorTypeReport:
			return device.CtrlSendData(hid.config.ReportDescriptor)
		case descriptorTypeHID:
			return device.CtrlSendData(hid.hidDescriptor())
		}
		return usb.ErrInvalid
	}

	request := hidRequest(setup.BRequest)
	hidLogger.Printf("REQUEST: %s\n", hidRequestDescriptions[request])
	switch request {
	case hidRequestSetIdle:
		hid.idleRate = uint8(setup.WValue >> 8)
		return nil

	case hidRequestGetIdle:
		buffer := device.CtrlData()
		buffer[0] = hid.idleRate
		return device.CtrlSendData(buffer[:1])

	case hidRequestSetProtocol:
		protocol := uint8(setup.WValue)
		if protocol != protocolBoot && protocol != protocolReport {
			return usb.ErrInvalid
		}
		hid.protocol = protocol
		return nil

	case hidRequestGetProtocol:
		buffer := device.CtrlData()
		buffer[0] = hid.protocol
		return device.CtrlSendData(buffer[:1])

	case hidRequestGetReport:
		if hid.InputReport == nil {
			return usb.ErrInvalid
		}
		return device.CtrlSendData(hid.InputReport())

	case hidRequestSetReport:
		return device.CtrlReceiveData(device.CtrlData())

	default:
		return usb.ErrInvalid
	}
}

func hidDataStage(itf *usb.Interface) {
	hid := fromInterface(itf)
	if hidRequest(itf.Device.Request().BRequest) != hidRequestSetReport {
		return
	}
	if hid.OnOutputReport == nil {
		return
	}
	buffer := itf.Device.CtrlData()
	length := int(itf.Device.Request().WLength)
	if length > len(buffer) {
		length = len(buffer)
	}
	hid.OnOutputReport(buffer[:length])
}

func hidInData(itf *usb.Interface, ep *usb.Endpoint) {
	hidLogger.Printf("REPORT SENT: %d bytes\n", ep.Transferred())
}

// InterfaceClass reports the function's class triple for bus-level
// device listings.
func (hid *HID) InterfaceClass() (class uint8, subclass uint8, protocol uint8) {
	return interfaceClassHID, hid.config.Subclass, hid.config.Protocol
}
