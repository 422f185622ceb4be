package usbip

import (
	"fmt"
	"sync"

	"github.com/bulwarkid/virtual-usb/usb"
	"github.com/bulwarkid/virtual-usb/util"
)

// InterfaceInfo is the class identity of one function, reported in the
// OP_REP_DEVLIST interface records.
type InterfaceInfo struct {
	Class    uint8
	Subclass uint8
	Protocol uint8
}

// DeviceInfo is the bus identity a Port exports to usbip clients.
type DeviceInfo struct {
	BusNum     uint32
	DevNum     uint32
	Interfaces []InterfaceInfo
}

type armedTransfer struct {
	// data for IN transfers, buffer for OUT transfers.
	data   []byte
	buffer []byte
}

// pendingURB is a host CMD_SUBMIT waiting for the device to arm a
// matching transfer on a class endpoint.
type pendingURB struct {
	sequenceNumber uint32
	endpoint       uint8
	direction      usbipDirection
	length         uint32
	payload        []byte
	reply          func(status int32, data []byte, actualLength uint32)
}

// Port runs a usb.Device over the usbip protocol. Host URBs arriving
// on the connection become the port's event source: EP0 submits feed
// Setup and drive the control phases to completion synchronously,
// class endpoint submits wait until the device arms a transfer in the
// same direction. Device events only ever fire with eventMu held, so
// the device sees a single flow of control.
type Port struct {
	info   DeviceInfo
	device *usb.Device

	// eventMu serializes every entry into the device.
	eventMu sync.Mutex

	mu       sync.Mutex
	started  bool
	attached bool
	armedIn  [usb.MaxEndpoints]*armedTransfer
	armedOut [usb.MaxEndpoints]*armedTransfer
	stallIn  [usb.MaxEndpoints]bool
	stallOut [usb.MaxEndpoints]bool
	pending  []*pendingURB

	// completions carries deferred URB completions out of EpSend and
	// EpReceive calls so the device event they trigger runs under
	// eventMu on the completion goroutine, never on the caller's.
	completions chan func()
	done        chan struct{}
}

func NewPort(info DeviceInfo) *Port {
	return &Port{
		info:        info,
		completions: make(chan func(), 256),
		done:        make(chan struct{}),
	}
}

func (port *Port) Init(device *usb.Device) error {
	port.device = device
	go port.completionLoop()
	return nil
}

func (port *Port) Deinit() error {
	close(port.done)
	return nil
}

func (port *Port) completionLoop() {
	for {
		select {
		case complete := <-port.completions:
			port.eventMu.Lock()
			complete()
			port.eventMu.Unlock()
		case <-port.done:
			return
		}
	}
}

// RunEvent runs fn with the event flow held, letting class goroutines
// submit transfers without racing URB processing.
func (port *Port) RunEvent(fn func()) {
	port.eventMu.Lock()
	defer port.eventMu.Unlock()
	fn()
}

func (port *Port) Start() error {
	port.mu.Lock()
	defer port.mu.Unlock()
	port.started = true
	return nil
}

func (port *Port) Stop() error {
	port.mu.Lock()
	defer port.mu.Unlock()
	port.started = false
	port.failAllPendingLocked(urbStatusNoEndpoint)
	return nil
}

func (port *Port) SetAddress(addr uint8) error {
	// usbip routes by socket, not bus address.
	usbipLogger.Printf("SET ADDRESS: %d\n", addr)
	return nil
}

func (port *Port) CtrlEpOpen() error {
	port.mu.Lock()
	defer port.mu.Unlock()
	port.armedIn[0] = nil
	port.armedOut[0] = nil
	port.stallIn[0] = false
	port.stallOut[0] = false
	return nil
}

func (port *Port) EpOpen(addr uint8, epType usb.EndpointType, maxPacketSize uint16) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	defer port.mu.Unlock()
	if addr&usb.DirectionInBit != 0 {
		port.armedIn[num] = nil
		port.stallIn[num] = false
	} else {
		port.armedOut[num] = nil
		port.stallOut[num] = false
	}
	return nil
}

func (port *Port) EpClose(addr uint8) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	defer port.mu.Unlock()
	if addr&usb.DirectionInBit != 0 {
		port.armedIn[num] = nil
	} else {
		port.armedOut[num] = nil
	}
	port.failPendingLocked(addr, urbStatusNoEndpoint)
	return nil
}

func (port *Port) EpFlush(addr uint8) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	defer port.mu.Unlock()
	if addr&usb.DirectionInBit != 0 {
		port.armedIn[num] = nil
	} else {
		port.armedOut[num] = nil
	}
	return nil
}

func (port *Port) EpSetStall(addr uint8) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	defer port.mu.Unlock()
	if addr&usb.DirectionInBit != 0 {
		port.stallIn[num] = true
	} else {
		port.stallOut[num] = true
	}
	port.failPendingLocked(addr, urbStatusStalled)
	return nil
}

func (port *Port) EpClearStall(addr uint8) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	defer port.mu.Unlock()
	if addr&usb.DirectionInBit != 0 {
		port.stallIn[num] = false
	} else {
		port.stallOut[num] = false
	}
	return nil
}

// EpSend arms an IN transfer. EP0 sends are drained synchronously by
// the control URB in progress; class endpoint sends complete a waiting
// host URB if one is queued, otherwise the data waits for the next
// CMD_SUBMIT.
func (port *Port) EpSend(addr uint8, data []byte) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	port.armedIn[num] = &armedTransfer{data: data}
	if num == 0 {
		port.mu.Unlock()
		return nil
	}
	urb := port.takePendingLocked(addr)
	port.mu.Unlock()
	if urb != nil {
		port.deferCompletion(func() {
			port.completeIn(addr, urb)
		})
	}
	return nil
}

// EpReceive arms an OUT transfer into buffer.
func (port *Port) EpReceive(addr uint8, buffer []byte) error {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	port.armedOut[num] = &armedTransfer{buffer: buffer}
	if num == 0 {
		port.mu.Unlock()
		return nil
	}
	urb := port.takePendingLocked(num)
	port.mu.Unlock()
	if urb != nil {
		port.deferCompletion(func() {
			port.completeOut(num, urb)
		})
	}
	return nil
}

func (port *Port) deferCompletion(complete func()) {
	select {
	case port.completions <- complete:
	case <-port.done:
	}
}

// completeIn hands an armed IN transfer to a waiting host URB and
// notifies the device. Caller holds eventMu.
func (port *Port) completeIn(addr uint8, urb *pendingURB) {
	num := usb.EndpointNumber(addr)
	port.mu.Lock()
	armed := port.armedIn[num]
	if armed == nil {
		// Raced with a flush or close; requeue the URB.
		port.pending = append(port.pending, urb)
		port.mu.Unlock()
		return
	}
	port.armedIn[num] = nil
	port.mu.Unlock()

	data := armed.data
	if uint32(len(data)) > urb.length {
		data = data[:urb.length]
	}
	port.device.TransferIn(addr)
	urb.reply(urbStatusOK, data, uint32(len(data)))
}

// completeOut copies a waiting host URB's payload into an armed OUT
// buffer and notifies the device. Caller holds eventMu.
func (port *Port) completeOut(num uint8, urb *pendingURB) {
	port.mu.Lock()
	armed := port.armedOut[num]
	if armed == nil {
		port.pending = append(port.pending, urb)
		port.mu.Unlock()
		return
	}
	port.armedOut[num] = nil
	port.mu.Unlock()

	received := copy(armed.buffer, urb.payload)
	port.device.TransferOut(num, received)
	urb.reply(urbStatusOK, nil, uint32(received))
}

func (port *Port) takePendingLocked(addr uint8) *pendingURB {
	num := usb.EndpointNumber(addr)
	direction := usbipDirOut
	if addr&usb.DirectionInBit != 0 {
		direction = usbipDirIn
	}
	for i, urb := range port.pending {
		if urb.endpoint == num && urb.direction == direction {
			port.pending = append(port.pending[:i], port.pending[i+1:]...)
			return urb
		}
	}
	return nil
}

func (port *Port) failPendingLocked(addr uint8, status int32) {
	num := usb.EndpointNumber(addr)
	direction := usbipDirOut
	if addr&usb.DirectionInBit != 0 {
		direction = usbipDirIn
	}
	kept := port.pending[:0]
	for _, urb := range port.pending {
		if urb.endpoint == num && urb.direction == direction {
			urb.reply(status, nil, 0)
		} else {
			kept = append(kept, urb)
		}
	}
	port.pending = kept
}

func (port *Port) failAllPendingLocked(status int32) {
	for _, urb := range port.pending {
		urb.reply(status, nil, 0)
	}
	port.pending = nil
}

// removePending drops a waiting URB by sequence number; used by
// CMD_UNLINK. Reports whether the URB was still waiting.
func (port *Port) removePending(sequenceNumber uint32) bool {
	port.mu.Lock()
	defer port.mu.Unlock()
	for i, urb := range port.pending {
		if urb.sequenceNumber == sequenceNumber {
			port.pending = append(port.pending[:i], port.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (port *Port) attach() {
	port.mu.Lock()
	port.attached = true
	port.mu.Unlock()
	port.eventMu.Lock()
	port.device.Reset(usb.SpeedHigh)
	port.eventMu.Unlock()
}

func (port *Port) detach() {
	port.mu.Lock()
	port.attached = false
	port.failAllPendingLocked(urbStatusNoEndpoint)
	port.mu.Unlock()
}

func (port *Port) takeArmedIn(num uint8) ([]byte, bool) {
	port.mu.Lock()
	defer port.mu.Unlock()
	armed := port.armedIn[num]
	if armed == nil {
		return nil, false
	}
	port.armedIn[num] = nil
	return armed.data, true
}

func (port *Port) takeArmedOut(num uint8) ([]byte, bool) {
	port.mu.Lock()
	defer port.mu.Unlock()
	armed := port.armedOut[num]
	if armed == nil {
		return nil, false
	}
	port.armedOut[num] = nil
	return armed.buffer, true
}

func (port *Port) ep0Stalled() bool {
	port.mu.Lock()
	defer port.mu.Unlock()
	return port.stallIn[0] || port.stallOut[0]
}

// handleControlURB services one EP0 CMD_SUBMIT end to end: it feeds
// the setup packet into the device and drains the data and status
// phases the device arms in response, all on the caller's stack.
// Caller holds eventMu.
func (port *Port) handleControlURB(header usbipMessageHeader, body usbipCommandSubmitBody, payload []byte,
	reply func(status int32, data []byte, actualLength uint32)) {
	port.device.Setup(body.SetupBytes)

	if port.ep0Stalled() {
		reply(urbStatusStalled, nil, 0)
		return
	}

	if header.Direction == usbipDirIn {
		var data []byte
		// Drain chained IN stages: data, a trailing short-packet ZLP,
		// then the handshake the device arms afterwards.
		for {
			chunk, ok := port.takeArmedIn(0)
			if !ok {
				break
			}
			data = append(data, chunk...)
			port.device.TransferIn(usb.DirectionInBit)
			if port.ep0Stalled() {
				reply(urbStatusStalled, nil, 0)
				return
			}
		}
		// OUT status stage for a data IN transfer.
		if _, ok := port.takeArmedOut(0); ok {
			port.device.TransferOut(0, 0)
		}
		if uint32(len(data)) > body.TransferBufferLength {
			data = data[:body.TransferBufferLength]
		}
		reply(urbStatusOK, data, uint32(len(data)))
		return
	}

	received := 0
	if buffer, ok := port.takeArmedOut(0); ok {
		received = copy(buffer, payload)
		port.device.TransferOut(0, received)
		if port.ep0Stalled() {
			reply(urbStatusStalled, nil, 0)
			return
		}
	}
	// IN status stage.
	if _, ok := port.takeArmedIn(0); ok {
		port.device.TransferIn(usb.DirectionInBit)
	}
	reply(urbStatusOK, nil, uint32(received))
}

// handleDataURB services a CMD_SUBMIT on a class endpoint: completed
// immediately when the device already armed a matching transfer,
// queued otherwise. Caller holds eventMu.
func (port *Port) handleDataURB(header usbipMessageHeader, body usbipCommandSubmitBody, payload []byte,
	reply func(status int32, data []byte, actualLength uint32)) {
	num := uint8(header.Endpoint)
	if num == 0 || num >= usb.MaxEndpoints {
		reply(urbStatusNoEndpoint, nil, 0)
		return
	}

	addr := num
	stalled := false
	port.mu.Lock()
	if header.Direction == usbipDirIn {
		addr |= usb.DirectionInBit
		stalled = port.stallIn[num]
	} else {
		stalled = port.stallOut[num]
	}
	port.mu.Unlock()
	if stalled {
		reply(urbStatusStalled, nil, 0)
		return
	}

	urb := &pendingURB{
		sequenceNumber: header.SequenceNumber,
		endpoint:       num,
		direction:      header.Direction,
		length:         body.TransferBufferLength,
		payload:        payload,
		reply:          reply,
	}

	if header.Direction == usbipDirIn {
		if _, ok := port.peekArmedIn(num); ok {
			port.completeIn(addr, urb)
			return
		}
	} else {
		if _, ok := port.peekArmedOut(num); ok {
			port.completeOut(num, urb)
			return
		}
	}

	port.mu.Lock()
	port.pending = append(port.pending, urb)
	port.mu.Unlock()
}

func (port *Port) peekArmedIn(num uint8) (*armedTransfer, bool) {
	port.mu.Lock()
	defer port.mu.Unlock()
	return port.armedIn[num], port.armedIn[num] != nil
}

func (port *Port) peekArmedOut(num uint8) (*armedTransfer, bool) {
	port.mu.Lock()
	defer port.mu.Unlock()
	return port.armedOut[num], port.armedOut[num] != nil
}

// BusID is the usbip bus identifier clients name in OP_REQ_IMPORT.
func (port *Port) BusID() string {
	return fmt.Sprintf("%d-%d", port.info.BusNum, port.info.DevNum)
}

func (port *Port) deviceID() uint32 {
	return port.info.BusNum<<16 | port.info.DevNum
}

func (port *Port) summary() usbipDeviceSummaryHeader {
	desc := port.device.Description()
	summary := usbipDeviceSummaryHeader{
		Busnum:              port.info.BusNum,
		Devnum:              port.info.DevNum,
		Speed:               speedHigh,
		IDVendor:            desc.Vendor.ID,
		IDProduct:           desc.Product.ID,
		BcdDevice:           desc.Product.Version,
		BDeviceClass:        0,
		BDeviceSubclass:     0,
		BDeviceProtocol:     0,
		BConfigurationValue: 1,
		BNumConfigurations:  1,
		BNumInterfaces:      uint8(len(port.info.Interfaces)),
	}
	copy(summary.Path[:], []byte("/sys/devices/virtual/usb/"+port.BusID()))
	copy(summary.BusID[:], []byte(port.BusID()))
	return summary
}

func (port *Port) interfaceRecords() []byte {
	var records []byte
	for _, itf := range port.info.Interfaces {
		record := usbipDeviceInterface{
			BInterfaceClass:    itf.Class,
			BInterfaceSubclass: itf.Subclass,
			BInterfaceProtocol: itf.Protocol,
		}
		records = append(records, util.ToBE(record)...)
	}
	return records
}
