package usb

import (
	"github.com/bulwarkid/virtual-usb/util"
	"github.com/hashicorp/go-multierror"
)

var usbLogger = util.NewLogger("[USB] ", util.LogLevelTrace)

// Table capacities. Interface and endpoint tables are fixed-size so
// mounting is a configuration-time capacity check instead of a
// run-time allocation.
const (
	MaxInterfaces = 8
	MaxEndpoints  = 8

	// CtrlBufferSize bounds the largest descriptor or class control
	// payload passing through EP0.
	CtrlBufferSize = 512

	EP0MaxPacketSize uint16 = 64

	maxConfigurationCount = 1
)

// SetAddressPolicy selects when a SET_ADDRESS value is committed to
// the port. Peripheral families disagree on this: most expect the
// commit after the status stage, some apply it immediately.
type SetAddressPolicy uint8

const (
	SetAddressDeferred  SetAddressPolicy = 0
	SetAddressImmediate SetAddressPolicy = 1
)

type VendorInfo struct {
	Name string
	ID   uint16
}

type ProductInfo struct {
	Name    string
	ID      uint16
	Version uint16 // BCD-coded version number
}

type PowerConfig struct {
	Name         string
	MaxCurrentMA uint16
	SelfPowered  bool
	RemoteWakeup bool
	LPM          bool
}

// Description is the immutable identity of a device: what the host
// sees in the device descriptor and the standard strings.
type Description struct {
	Vendor       VendorInfo
	Product      ProductInfo
	Config       PowerConfig
	SerialNumber []byte // packed BCD, expanded to hex digits on demand
}

// SpecBCD returns the bcdUSB value to report. Reading the BOS
// descriptor requires at least 2.01.
func (desc *Description) SpecBCD() uint16 {
	if desc.Config.LPM {
		return 0x0201
	}
	return 0x0200
}

// Device is one USB device's full protocol state: the decoded setup
// request, negotiated speed, feature flags, active configuration,
// mounted interface list and both endpoint tables. All state is driven
// by a single logical flow of port events; the device owns no lock.
type Device struct {
	desc  *Description
	setup SetupRequest
	port  Port

	speed     Speed
	linkState LinkState

	selfPowered  bool
	remoteWakeup bool

	addressPolicy SetAddressPolicy

	// configSelector 0 means unconfigured: no non-EP0 endpoint open,
	// no class Init has run.
	configSelector uint8

	ifCount    uint8
	interfaces [MaxInterfaces]*Interface

	epIn  [MaxEndpoints]Endpoint
	epOut [MaxEndpoints]Endpoint

	// ctrlData is the shared control transfer scratch buffer. It is
	// owned by the in-flight control transfer; class handlers may use
	// it only for the duration of one callback.
	ctrlData [CtrlBufferSize]byte
}

// NewDevice creates a device bound to its peripheral port. Interfaces
// are mounted afterwards, before Connect.
func NewDevice(desc *Description, port Port) (*Device, error) {
	device := &Device{
		desc:        desc,
		port:        port,
		selfPowered: desc.Config.SelfPowered,
	}
	for num := uint8(0); num < MaxEndpoints; num++ {
		device.epIn[num].addr = num | DirectionInBit
		device.epOut[num].addr = num
	}
	device.epIn[0].Type = EndpointTypeControl
	device.epIn[0].MaxPacketSize = EP0MaxPacketSize
	device.epOut[0].Type = EndpointTypeControl
	device.epOut[0].MaxPacketSize = EP0MaxPacketSize

	if err := port.Init(device); err != nil {
		return nil, err
	}
	return device, nil
}

// SetAddressPolicy selects the SET_ADDRESS commit timing; call before
// Connect.
func (device *Device) SetAddressPolicy(policy SetAddressPolicy) {
	device.addressPolicy = policy
}

// Description returns the immutable device description.
func (device *Device) Description() *Description {
	return device.desc
}

// Speed returns the negotiated bus speed.
func (device *Device) Speed() Speed {
	return device.speed
}

// Configured reports whether a non-zero configuration is active.
func (device *Device) Configured() bool {
	return device.configSelector != 0
}

// InterfaceCount returns the number of claimed interface slots.
func (device *Device) InterfaceCount() uint8 {
	return device.ifCount
}

// Request returns the setup request currently being served. Valid only
// inside class callbacks.
func (device *Device) Request() *SetupRequest {
	return &device.setup
}

// CtrlData exposes the shared control scratch buffer to class
// handlers. The slice must not be retained past the callback that
// received control of it.
func (device *Device) CtrlData() []byte {
	return device.ctrlData[:]
}

// Do runs fn serialized against the port's event flow. Class drivers
// submitting transfers from their own goroutines must wrap the
// Send/Receive call in Do; from inside a completion callback they call
// Send/Receive directly, as Do there would deadlock on serializing
// ports.
func (device *Device) Do(fn func()) {
	if serializer, ok := device.port.(EventSerializer); ok {
		serializer.RunEvent(fn)
		return
	}
	fn()
}

// Connect logically attaches the device to the bus.
func (device *Device) Connect() error {
	return device.port.Start()
}

// Disconnect detaches from the bus, deactivating any configuration
// first.
func (device *Device) Disconnect() error {
	device.setConfig(0)
	return device.port.Stop()
}

// Close detaches and releases the port, aggregating teardown errors.
func (device *Device) Close() error {
	var result *multierror.Error
	if err := device.Disconnect(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := device.port.Deinit(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// UnmountInterfaces removes all mounted interfaces and releases their
// endpoint claims. Only meaningful while disconnected.
func (device *Device) UnmountInterfaces() {
	device.setConfig(0)
	device.ifCount = 0
	for num := 1; num < MaxEndpoints; num++ {
		device.epIn[num] = Endpoint{addr: uint8(num) | DirectionInBit}
		device.epOut[num] = Endpoint{addr: uint8(num)}
	}
}

// SignalRemoteWakeup drives resume signaling if the host has enabled
// the remote wakeup feature and the port supports it.
func (device *Device) SignalRemoteWakeup() error {
	if !device.remoteWakeup {
		return ErrFeatureDisabled
	}
	if signaler, ok := device.port.(RemoteWakeupSignaler); ok {
		return signaler.SignalRemoteWakeup()
	}
	return ErrInvalid
}

// ClearRemoteWakeup ends resume signaling.
func (device *Device) ClearRemoteWakeup() error {
	if !device.remoteWakeup {
		return ErrFeatureDisabled
	}
	if signaler, ok := device.port.(RemoteWakeupSignaler); ok {
		return signaler.ClearRemoteWakeup()
	}
	return ErrInvalid
}

// Reset is the port's bus reset event: any active configuration is
// cleared and the control endpoint pair reopened at the new speed.
func (device *Device) Reset(speed Speed) {
	usbLogger.Printf("BUS RESET: %s\n", speed)
	device.speed = speed
	device.linkState = LinkStateActive
	device.remoteWakeup = false
	device.setConfig(0)

	device.port.CtrlEpOpen()
	device.epIn[0].State = EndpointStateIdle
	device.epOut[0].State = EndpointStateIdle
}

// Suspended is the port's bus suspend event.
func (device *Device) Suspended() {
	device.linkState = LinkStateSuspend
}

// Resumed is the port's bus resume event.
func (device *Device) Resumed() {
	device.linkState = LinkStateActive
}

// LinkState returns the current bus power state.
func (device *Device) Link() LinkState {
	return device.linkState
}
