package usb

import (
	"testing"

	"github.com/bulwarkid/virtual-usb/test"
	"github.com/bulwarkid/virtual-usb/util"
)

// fakePort records every driver call so tests can assert on the exact
// traffic the core generates, and lets tests play the host side by
// firing completion events.
type fakePort struct {
	device *Device

	sends    [][]byte
	sendAddr []uint8
	receives [][]byte
	recvAddr []uint8

	stalls map[uint8]bool
	opened map[uint8]bool

	address        uint8
	addressCommits int
	started        bool
	deinited       bool
}

func newFakePort() *fakePort {
	return &fakePort{
		stalls: make(map[uint8]bool),
		opened: make(map[uint8]bool),
	}
}

func (port *fakePort) Init(device *Device) error {
	port.device = device
	return nil
}

func (port *fakePort) Deinit() error {
	port.deinited = true
	return nil
}

func (port *fakePort) Start() error {
	port.started = true
	return nil
}

func (port *fakePort) Stop() error {
	port.started = false
	return nil
}

func (port *fakePort) SetAddress(addr uint8) error {
	port.address = addr
	port.addressCommits++
	return nil
}

func (port *fakePort) CtrlEpOpen() error {
	port.opened[0x00] = true
	port.opened[DirectionInBit] = true
	return nil
}

func (port *fakePort) EpOpen(addr uint8, epType EndpointType, maxPacketSize uint16) error {
	port.opened[addr] = true
	return nil
}

func (port *fakePort) EpClose(addr uint8) error {
	delete(port.opened, addr)
	return nil
}

func (port *fakePort) EpSend(addr uint8, data []byte) error {
	port.sends = append(port.sends, data)
	port.sendAddr = append(port.sendAddr, addr)
	return nil
}

func (port *fakePort) EpReceive(addr uint8, buffer []byte) error {
	port.receives = append(port.receives, buffer)
	port.recvAddr = append(port.recvAddr, addr)
	return nil
}

func (port *fakePort) EpSetStall(addr uint8) error {
	port.stalls[addr] = true
	return nil
}

func (port *fakePort) EpClearStall(addr uint8) error {
	port.stalls[addr] = false
	return nil
}

func (port *fakePort) EpFlush(addr uint8) error {
	return nil
}

func (port *fakePort) ep0Stalled() bool {
	return port.stalls[0x00] && port.stalls[DirectionInBit]
}

func newTestDevice(t *testing.T) (*Device, *fakePort) {
	port := newFakePort()
	device, err := NewDevice(&Description{
		Vendor:       VendorInfo{Name: "Test Vendor", ID: 0x1209},
		Product:      ProductInfo{Name: "Test Product", ID: 0x0001, Version: 0x0100},
		Config:       PowerConfig{Name: "Default", MaxCurrentMA: 100, SelfPowered: true},
		SerialNumber: []byte{0x12, 0x34},
	}, port)
	test.AssertNoError(t, err, "Could not create device")
	return device, port
}

func standardSetup(direction Direction, recipient RequestRecipient, request Request, wValue uint16, wIndex uint16, wLength uint16) SetupRequest {
	setup := SetupRequest{
		BRequest: request,
		WValue:   wValue,
		WIndex:   wIndex,
		WLength:  wLength,
	}
	setup.SetDirection(direction)
	setup.SetClass(RequestClassStandard)
	setup.SetRecipient(recipient)
	return setup
}

func submitSetup(device *Device, setup SetupRequest) {
	var raw [8]byte
	copy(raw[:], util.ToLE(setup))
	device.Setup(raw)
}

// controlRead plays the host side of an IN control transfer: submit
// the setup packet, complete the data stage sends (including a ZLP if
// the core inserts one) and the status stage, and return the data.
func controlRead(t *testing.T, device *Device, port *fakePort, setup SetupRequest) []byte {
	t.Helper()
	sendsBefore := len(port.sends)
	submitSetup(device, setup)
	if port.ep0Stalled() {
		t.Fatalf("Control request stalled: %s", setup)
	}
	test.AssertEqual(t, len(port.sends), sendsBefore+1, "No data stage send")
	data := port.sends[sendsBefore]
	for len(port.sends) > sendsBefore {
		sendsBefore = len(port.sends)
		device.TransferIn(DirectionInBit)
	}
	// Status stage: the core armed an OUT ZLP reception.
	test.AssertNotEqual(t, len(port.receives), 0, "No status stage armed")
	device.TransferOut(0x00, 0)
	return data
}

// controlNoData plays a zero-data control request through its status
// stage.
func controlNoData(t *testing.T, device *Device, port *fakePort, setup SetupRequest) {
	t.Helper()
	sendsBefore := len(port.sends)
	submitSetup(device, setup)
	if port.ep0Stalled() {
		t.Fatalf("Control request stalled: %s", setup)
	}
	test.AssertEqual(t, len(port.sends), sendsBefore+1, "No status stage send")
	device.TransferIn(DirectionInBit)
}

// configure activates configuration 1 the way the host would.
func configure(t *testing.T, device *Device, port *fakePort) {
	t.Helper()
	controlNoData(t, device, port, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestSetConfiguration, 1, 0, 0))
	test.AssertEqual(t, device.Configured(), true, "Device not configured")
}
