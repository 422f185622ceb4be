package usb

// Class is the capability table a class driver exposes to the core.
// Every slot is optional; a nil slot means the class does not implement
// that capability. The core never knows concrete class types, only
// this set.
type Class struct {
	// GetDescriptor writes the function's interface, class-specific
	// and endpoint descriptors into dest and returns the byte length.
	GetDescriptor func(itf *Interface, ifNum uint8, dest []byte) int

	// GetString returns the interface-internal string for the given
	// local index, or "" when there is none.
	GetString func(itf *Interface, localIndex uint8) string

	// Init is invoked when the interface's configuration or alternate
	// setting is activated; it opens the owned endpoints.
	Init func(itf *Interface)

	// Deinit is invoked on deactivation; it closes the owned
	// endpoints.
	Deinit func(itf *Interface)

	// SetupStage receives any non-generic control request addressed
	// to the interface. A non-nil return rejects the request.
	SetupStage func(itf *Interface) error

	// DataStage is invoked when the interface's control data stage
	// completes; the payload is in the shared control buffer.
	DataStage func(itf *Interface)

	// InData and OutData are invoked on completion of the interface's
	// non-control endpoint transfers.
	InData  func(itf *Interface, ep *Endpoint)
	OutData func(itf *Interface, ep *Endpoint)

	// CompatibleID names the function's Microsoft compatible ID for
	// OS-specific descriptor extensions, or "" when not applicable.
	CompatibleID string
}

// Interface is the base record embedded in (or referenced by) every
// mounted class instance. Associated interfaces share one Interface
// across consecutive slots.
type Interface struct {
	Device *Device
	Class  *Class

	// AltSelector is the active alternate setting; AltCount the number
	// of settings the class provides (at least 1).
	AltSelector uint8
	AltCount    uint8

	number uint8
	extra  interface{}
}

// Number returns the first interface slot the instance is mounted at.
func (itf *Interface) Number() uint8 {
	return itf.number
}

// SetContext attaches class-private state to the interface record.
func (itf *Interface) SetContext(val interface{}) {
	itf.extra = val
}

// Context returns the class-private state set by SetContext.
func (itf *Interface) Context() interface{} {
	return itf.extra
}

// Capability dispatch with absent-slot checks. Nil interface receivers
// are tolerated so event routing does not need its own guards.

func (itf *Interface) getDescriptor(ifNum uint8, dest []byte) int {
	if itf == nil || itf.Class.GetDescriptor == nil {
		return 0
	}
	return itf.Class.GetDescriptor(itf, ifNum, dest)
}

func (itf *Interface) getString(localIndex uint8) string {
	if itf == nil || itf.Class.GetString == nil {
		return ""
	}
	return itf.Class.GetString(itf, localIndex)
}

func (itf *Interface) init() {
	if itf == nil || itf.Class.Init == nil {
		return
	}
	itf.Class.Init(itf)
}

func (itf *Interface) deinit() {
	if itf == nil || itf.Class.Deinit == nil {
		return
	}
	itf.Class.Deinit(itf)
}

func (itf *Interface) setupStage() error {
	if itf == nil || itf.Class.SetupStage == nil {
		return ErrInvalid
	}
	return itf.Class.SetupStage(itf)
}

func (itf *Interface) dataStage() {
	if itf == nil || itf.Class.DataStage == nil {
		return
	}
	itf.Class.DataStage(itf)
}

func (itf *Interface) inData(ep *Endpoint) {
	if itf == nil || itf.Class.InData == nil {
		return
	}
	itf.Class.InData(itf, ep)
}

func (itf *Interface) outData(ep *Endpoint) {
	if itf == nil || itf.Class.OutData == nil {
		return
	}
	itf.Class.OutData(itf, ep)
}

func (itf *Interface) compatibleID() string {
	if itf == nil {
		return ""
	}
	return itf.Class.CompatibleID
}

func (device *Device) interfaceAt(ifNum uint8) *Interface {
	if ifNum >= device.ifCount {
		return nil
	}
	return device.interfaces[ifNum]
}

// EndpointConfig declares one endpoint address a class claims at mount
// time.
type EndpointConfig struct {
	Addr          uint8
	Type          EndpointType
	MaxPacketSize uint16
}

// Mount binds a class interface instance to the device before it is
// connected. The instance claims the next slots consecutive
// interface-list entries (classes pairing control and data interfaces
// claim 2, sharing the record) and registers its endpoint addresses.
// Fails with ErrStackFull when the fixed interface table cannot hold
// the claim; this is a configuration-time fault, never retried.
func (device *Device) Mount(itf *Interface, slots int, endpoints ...EndpointConfig) error {
	if slots < 1 || int(device.ifCount)+slots > MaxInterfaces {
		return ErrStackFull
	}
	for _, cfg := range endpoints {
		if EndpointNumber(cfg.Addr) == 0 || EndpointNumber(cfg.Addr) >= MaxEndpoints {
			return ErrInvalidEndpoint
		}
		// A record with a packet size was claimed by an earlier mount.
		if device.endpointRef(cfg.Addr).MaxPacketSize != 0 {
			return ErrInvalidEndpoint
		}
	}

	itf.Device = device
	itf.number = device.ifCount
	itf.AltSelector = 0
	if itf.AltCount == 0 {
		itf.AltCount = 1
	}

	for _, cfg := range endpoints {
		ep := device.endpointRef(cfg.Addr)
		ep.Type = cfg.Type
		ep.MaxPacketSize = cfg.MaxPacketSize
		ep.ifNum = device.ifCount
	}

	for i := 0; i < slots; i++ {
		device.interfaces[device.ifCount] = itf
		device.ifCount++
	}

	usbLogger.Printf("MOUNT: interface %d (+%d slots)\n", itf.number, slots)
	return nil
}

// setConfig activates or clears a device configuration. Leaving a
// configured state first deinitializes all mounted interfaces in mount
// order; entering a non-zero configuration then initializes them in
// mount order, so no interface ever observes a half-initialized
// sibling.
func (device *Device) setConfig(cfgNum uint8) {
	if device.configSelector == cfgNum {
		return
	}

	if device.configSelector != 0 {
		var prev *Interface
		for ifNum := uint8(0); ifNum < device.ifCount; ifNum++ {
			itf := device.interfaces[ifNum]
			if itf == prev {
				continue
			}
			prev = itf
			itf.deinit()
			itf.AltSelector = 0
		}
	}

	device.configSelector = cfgNum

	if device.configSelector != 0 {
		var prev *Interface
		for ifNum := uint8(0); ifNum < device.ifCount; ifNum++ {
			itf := device.interfaces[ifNum]
			if itf == prev {
				continue
			}
			prev = itf
			itf.init()
		}
	}
}

// interfaceRequest routes a setup request with an interface recipient.
// GET/SET_INTERFACE are handled generically; everything else is
// forwarded to the addressed interface's SetupStage slot, which is how
// class protocols receive their control traffic.
func (device *Device) interfaceRequest() error {
	ifNum := uint8(device.setup.WIndex)
	itf := device.interfaceAt(ifNum)
	if device.configSelector == 0 || itf == nil {
		return ErrInvalid
	}

	if device.setup.Class() != RequestClassStandard {
		return itf.setupStage()
	}

	switch device.setup.BRequest {
	case RequestGetInterface:
		device.ctrlData[0] = itf.AltSelector
		return device.CtrlSendData(device.ctrlData[:1])

	case RequestSetInterface:
		altSel := uint8(device.setup.WValue)
		if altSel >= itf.AltCount {
			return ErrInvalid
		}
		// Reinitialize only this interface with the new setting.
		itf.deinit()
		itf.AltSelector = altSel
		itf.init()
		return nil

	default:
		return itf.setupStage()
	}
}

// interfaceString resolves an interface-scoped string request using the
// base + interfaceNumber + 16*localIndex index scheme.
func (device *Device) interfaceString() string {
	index := uint8(device.setup.WValue)
	ifNum := (index & 0xF) - StringIndexInterfaces
	localIndex := index >> 4
	return device.interfaceAt(ifNum).getString(localIndex)
}
