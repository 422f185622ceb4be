package usb

import "github.com/bulwarkid/virtual-usb/util"

// String descriptor index layout. Each mounted interface may expose up
// to 16 named strings through base + interfaceNumber + 16*localIndex,
// which avoids any global string registry.
const (
	StringIndexLangID     uint8 = 0x00
	StringIndexInterfaces uint8 = 0x01
	StringIndexVendor     uint8 = 0x10
	StringIndexProduct    uint8 = 0x20
	StringIndexSerial     uint8 = 0x30
	StringIndexConfig     uint8 = 0x40
	stringIndexMsOS       uint8 = 0xEE
)

// InterfaceStringIndex computes the descriptor index an interface
// should report for one of its named strings.
func InterfaceStringIndex(ifNum uint8, localIndex uint8) uint8 {
	return StringIndexInterfaces + ifNum + localIndex<<4
}

// deviceDescriptor fills in the identity fields from the immutable
// device description.
func (device *Device) deviceDescriptor() []byte {
	desc := DeviceDescriptor{
		BLength:            util.SizeOf[DeviceDescriptor](),
		BDescriptorType:    DescriptorTypeDevice,
		BcdUSB:             device.desc.SpecBCD(),
		BDeviceClass:       0,
		BDeviceSubclass:    0,
		BDeviceProtocol:    0,
		BMaxPacketSize:     uint8(device.epOut[0].MaxPacketSize),
		IDVendor:           device.desc.Vendor.ID,
		IDProduct:          device.desc.Product.ID,
		BcdDevice:          device.desc.Product.Version,
		IManufacturer:      StringIndexVendor,
		IProduct:           StringIndexProduct,
		BNumConfigurations: maxConfigurationCount,
	}
	if len(device.desc.SerialNumber) > 0 {
		desc.ISerialNumber = StringIndexSerial
	}
	return util.ToLE(desc)
}

// configDescriptor assembles the configuration descriptor by querying
// each distinct mounted interface once. Slots pointing at the same
// record as the previous slot belong to an association and are covered
// by that record's single GetDescriptor call.
func (device *Device) configDescriptor(dest []byte) int {
	headerLen := int(util.SizeOf[ConfigurationDescriptor]())
	total := headerLen

	var prev *Interface
	for ifNum := uint8(0); ifNum < device.ifCount; ifNum++ {
		itf := device.interfaces[ifNum]
		if itf == prev {
			continue
		}
		prev = itf
		total += itf.getDescriptor(ifNum, dest[total:])
	}

	attributes := uint8(ConfigAttributeBase)
	if device.desc.Config.SelfPowered {
		attributes |= ConfigAttributeSelfPowered
	}
	if device.desc.Config.RemoteWakeup {
		attributes |= ConfigAttributeRemoteWakeup
	}
	desc := ConfigurationDescriptor{
		BLength:             uint8(headerLen),
		BDescriptorType:     DescriptorTypeConfiguration,
		WTotalLength:        uint16(total),
		BNumInterfaces:      device.ifCount,
		BConfigurationValue: 1,
		IConfiguration:      StringIndexConfig,
		BmAttributes:        attributes,
		BMaxPower:           uint8(device.desc.Config.MaxCurrentMA / 2),
	}
	copy(dest, util.ToLE(desc))
	return total
}

func (device *Device) deviceQualifierDescriptor() []byte {
	return util.ToLE(DeviceQualifierDescriptor{
		BLength:            util.SizeOf[DeviceQualifierDescriptor](),
		BDescriptorType:    DescriptorTypeDeviceQualifier,
		BcdUSB:             device.desc.SpecBCD(),
		BMaxPacketSize:     uint8(device.epOut[0].MaxPacketSize),
		BNumConfigurations: maxConfigurationCount,
	})
}

// bosWithCapability reports the USB 2.0 extension capability; the LPM
// bits are set when the description enables link power management.
func (device *Device) bosWithCapability() []byte {
	capability := deviceCapabilityDescriptor{
		BLength:            util.SizeOf[deviceCapabilityDescriptor](),
		BDescriptorType:    DescriptorTypeCapability,
		BDevCapabilityType: capabilityTypeUSB2Ext,
	}
	if device.desc.Config.LPM {
		// bit1: LPM support, bit2: BESL and alternate HIRD
		capability.BmAttributes = 6
	}
	capBytes := util.ToLE(capability)
	bos := bosDescriptor{
		BLength:         util.SizeOf[bosDescriptor](),
		BDescriptorType: DescriptorTypeBOS,
		WTotalLength:    uint16(int(util.SizeOf[bosDescriptor]()) + len(capBytes)),
		BNumDeviceCaps:  1,
	}
	return util.Concat(util.ToLE(bos), capBytes)
}

func (device *Device) langIDDescriptor() []byte {
	header := stringDescriptorHeader{
		BLength:         4,
		BDescriptorType: DescriptorTypeString,
	}
	return util.Concat(util.ToLE(header), util.ToLE(LangIDEngUSA))
}

func (device *Device) stringDescriptorFor(index uint8) []byte {
	switch index {
	case StringIndexLangID:
		return device.langIDDescriptor()
	case StringIndexVendor:
		return stringDescriptor(device.desc.Vendor.Name)
	case StringIndexProduct:
		return stringDescriptor(device.desc.Product.Name)
	case StringIndexConfig:
		return stringDescriptor(device.desc.Config.Name)
	case StringIndexSerial:
		if len(device.desc.SerialNumber) == 0 {
			return nil
		}
		return bcdStringDescriptor(device.desc.SerialNumber)
	case stringIndexMsOS:
		return msOSStringDescriptor()
	default:
		if str := device.interfaceString(); str != "" {
			return stringDescriptor(str)
		}
		return nil
	}
}

// getDescriptor serves GET_DESCRIPTOR from the control endpoint using
// the shared control buffer.
func (device *Device) getDescriptor() error {
	descType, index := device.setup.descriptorTypeAndIndex()
	usbLogger.Printf("GET DESCRIPTOR: Type: %s Index: %d\n", descType, index)

	length := 0
	switch descType {
	case DescriptorTypeDevice:
		length = copy(device.ctrlData[:], device.deviceDescriptor())

	case DescriptorTypeConfiguration:
		length = device.configDescriptor(device.ctrlData[:])

	case DescriptorTypeString:
		if data := device.stringDescriptorFor(index); data != nil {
			length = copy(device.ctrlData[:], data)
		}

	case DescriptorTypeDeviceQualifier:
		if device.speed == SpeedHigh {
			length = copy(device.ctrlData[:], device.deviceQualifierDescriptor())
		}

	case DescriptorTypeOtherSpeedConfig:
		if device.speed == SpeedHigh {
			length = device.configDescriptor(device.ctrlData[:])
			device.ctrlData[1] = uint8(DescriptorTypeOtherSpeedConfig)
		}

	case DescriptorTypeBOS:
		length = copy(device.ctrlData[:], device.bosWithCapability())
	}

	if length == 0 {
		return ErrInvalid
	}
	return device.CtrlSendData(device.ctrlData[:length])
}

// EndpointDescriptorFor returns the wire descriptor of a claimed
// endpoint address; class GetDescriptor callbacks use it to append
// their endpoint descriptors.
func (device *Device) EndpointDescriptorFor(addr uint8, interval uint8) []byte {
	ep := device.endpointRef(addr)
	if ep == nil {
		return nil
	}
	return util.ToLE(EndpointDescriptor{
		BLength:          util.SizeOf[EndpointDescriptor](),
		BDescriptorType:  DescriptorTypeEndpoint,
		BEndpointAddress: addr,
		BmAttributes:     uint8(ep.Type),
		WMaxPacketSize:   ep.MaxPacketSize,
		BInterval:        interval,
	})
}

// HighSpeedInterval approximates a millisecond polling interval in the
// high-speed bInterval exponent encoding (125 us frames, 2^(n-1)).
func HighSpeedInterval(intervalMS uint32) uint8 {
	interval125us := intervalMS * 8
	n := uint8(3)
	for ; n < 16; n++ {
		if interval125us < (2 << n) {
			n++
			break
		}
	}
	return n
}
