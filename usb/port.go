package usb

// Port is the peripheral transfer driver contract: the layer that
// actually moves bytes. A port implementation calls back into the
// Device's event entry points (Reset, Setup, TransferIn, TransferOut,
// Suspended, Resumed) from its own event source, one event at a time.
// Endpoint addresses follow the convention of this package: 7-bit
// number with the direction flag in the top bit.
type Port interface {
	// Init binds the port to its device before any traffic; Deinit
	// releases the port entirely.
	Init(device *Device) error
	Deinit() error

	// Start and Stop logically attach and detach the device from the
	// bus.
	Start() error
	Stop() error

	// SetAddress commits the bus address negotiated by SET_ADDRESS.
	SetAddress(addr uint8) error

	// CtrlEpOpen opens the bidirectional default control endpoint
	// after a bus reset.
	CtrlEpOpen() error

	EpOpen(addr uint8, epType EndpointType, maxPacketSize uint16) error
	EpClose(addr uint8) error
	EpSend(addr uint8, data []byte) error
	EpReceive(addr uint8, buffer []byte) error
	EpSetStall(addr uint8) error
	EpClearStall(addr uint8) error
	EpFlush(addr uint8) error
}

// RemoteWakeupSignaler is an optional port capability for driving
// resume signaling toward the host.
type RemoteWakeupSignaler interface {
	SignalRemoteWakeup() error
	ClearRemoteWakeup() error
}

// EventSerializer is an optional port capability: a port whose event
// source runs on its own goroutine exposes it so that transfer
// submissions originating outside a completion callback can join the
// single event flow. RunEvent must not be called from inside a device
// event.
type EventSerializer interface {
	RunEvent(fn func())
}
