package usb

// Control transfer engine: one SETUP/DATA/STATUS sequence at a time on
// the paired EP0 records. All entry points run on the port's event
// flow; class handlers may re-enter Send/Receive from their callbacks
// but never block.

// ctrlSendError reports a failed request by stalling EP0. Both
// directions are stalled because a half-stalled control pipe is
// unrecoverable by some hosts.
func (device *Device) ctrlSendError() {
	device.port.EpSetStall(DirectionInBit)
	device.epIn[0].State = EndpointStateStall
	device.port.EpSetStall(0x00)
	device.epOut[0].State = EndpointStateStall
}

// ctrlSendStatus finishes an OUT data stage (or a zero-data request)
// with an IN zero-length packet.
func (device *Device) ctrlSendStatus() {
	device.epIn[0].State = EndpointStateStatus
	device.epIn[0].setTransfer(nil, 0)
	device.port.EpSend(DirectionInBit, nil)
}

// ctrlReceiveStatus finishes an IN data stage by arming an OUT
// zero-length packet reception.
func (device *Device) ctrlReceiveStatus() {
	device.epOut[0].State = EndpointStateStatus
	device.epOut[0].setTransfer(nil, 0)
	device.port.EpReceive(0x00, nil)
}

// ctrlInDone advances the control transfer after an EP0 IN completion:
// it sends a ZLP when the transfer boundary is ambiguous, invokes the
// interface data stage callback, starts the status stage, and commits
// a deferred SET_ADDRESS once the status stage finishes.
func (device *Device) ctrlInDone() {
	in := &device.epIn[0]

	// The last packet was a full MaxPacketSize multiple short of the
	// requested length, so the boundary needs a ZLP.
	if in.transfer.length < int(device.setup.WLength) &&
		in.transfer.length >= int(in.MaxPacketSize) &&
		in.transfer.length%int(in.MaxPacketSize) == 0 {
		in.setTransfer(nil, 0)
		device.port.EpSend(DirectionInBit, nil)
		return
	}

	in.State = EndpointStateIdle

	if device.setup.Direction() == DirectionIn {
		// Only call back if an interface was serving the request.
		if device.configSelector != 0 &&
			device.setup.Recipient() == RequestRecipientInterface {
			device.interfaceAt(uint8(device.setup.WIndex)).dataStage()
		}
		device.ctrlReceiveStatus()
	} else if device.addressPolicy == SetAddressDeferred &&
		device.setup.BmRequestType == 0 &&
		device.setup.BRequest == RequestSetAddress {
		// The host expects the device to answer at the old address
		// through the status stage, so the commit happens here.
		device.port.SetAddress(uint8(device.setup.WValue & 0x7F))
	}
}

// ctrlOutDone advances the control transfer after an EP0 OUT
// completion. The endpoint record is already back in Idle.
func (device *Device) ctrlOutDone() {
	if device.setup.WLength > 0 && device.setup.Direction() == DirectionOut {
		// Standard requests have no OUT data stage, so the payload
		// belongs to an interface.
		if device.configSelector != 0 {
			device.interfaceAt(uint8(device.setup.WIndex)).dataStage()
		}
		device.ctrlSendStatus()
	}
}

// CtrlSendData feeds the data stage of an IN control transfer. The
// length is clamped to the host-requested wLength. Valid only while
// handling the setup stage of an IN-direction request.
func (device *Device) CtrlSendData(data []byte) error {
	if device.setup.Direction() != DirectionIn ||
		device.epOut[0].State != EndpointStateSetup {
		return ErrWrongPhase
	}
	if len(data) > int(device.setup.WLength) {
		data = data[:device.setup.WLength]
	}
	device.epIn[0].State = EndpointStateData
	device.epIn[0].setTransfer(data, len(data))
	return device.port.EpSend(DirectionInBit, data)
}

// CtrlReceiveData arms the data stage of an OUT control transfer. The
// capacity is clamped to the host-announced wLength.
func (device *Device) CtrlReceiveData(buffer []byte) error {
	if device.setup.Direction() != DirectionOut ||
		device.epOut[0].State != EndpointStateSetup {
		return ErrWrongPhase
	}
	if len(buffer) > int(device.setup.WLength) {
		buffer = buffer[:device.setup.WLength]
	}
	device.epOut[0].State = EndpointStateData
	device.epOut[0].setTransfer(buffer, len(buffer))
	return device.port.EpReceive(0x00, buffer)
}

// Setup is the port's event for a received SETUP packet. It decodes the
// raw bytes, routes the request by recipient, and either stalls EP0 on
// rejection or completes the status stage for zero-data requests. A new
// SETUP abandons whatever transfer was previously in flight.
func (device *Device) Setup(raw [8]byte) {
	// A request error leaves both directions stalled until the host
	// talks to us again; the new SETUP is that signal.
	if device.epIn[0].State == EndpointStateStall ||
		device.epOut[0].State == EndpointStateStall {
		device.port.EpClearStall(DirectionInBit)
		device.epIn[0].State = EndpointStateIdle
		device.port.EpClearStall(0x00)
		device.epOut[0].State = EndpointStateIdle
	}

	device.setup = decodeSetupRequest(raw)
	device.epOut[0].State = EndpointStateSetup
	usbLogger.Printf("SETUP: %s\n", device.setup)

	var err error = ErrInvalid
	switch device.setup.Recipient() {
	case RequestRecipientDevice:
		err = device.deviceRequest()
	case RequestRecipientInterface:
		err = device.interfaceRequest()
	case RequestRecipientEndpoint:
		err = device.endpointRequest()
	}

	if err != nil {
		usbLogger.Printf("REQUEST ERROR: %v\n", err)
		device.ctrlSendError()
	} else if device.setup.WLength == 0 {
		device.ctrlSendStatus()
	}
	// Otherwise the data stage is already running in the requested
	// direction.
}
