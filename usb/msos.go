package usb

import "github.com/bulwarkid/virtual-usb/util"

// Microsoft OS 1.0 descriptors let Windows bind drivers by compatible
// ID without an INF file. The host discovers support through string
// descriptor 0xEE and then issues a vendor device request with the
// code advertised there.

const msVendorCode uint8 = 0x4D

const msExtendedCompatIDIndex uint16 = 4

type msCompatIDHeader struct {
	DwLength   uint32
	BcdVersion uint16
	WIndex     uint16
	BCount     uint8
	Reserved   [7]byte
}

type msCompatIDFunction struct {
	BFirstInterfaceNumber uint8
	Reserved1             uint8
	CompatibleID          [8]byte
	SubCompatibleID       [8]byte
	Reserved2             [6]byte
}

func msOSStringDescriptor() []byte {
	signature := util.Utf16encode("MSFT100")
	header := stringDescriptorHeader{
		BLength:         uint8(2 + len(signature) + 2),
		BDescriptorType: DescriptorTypeString,
	}
	return util.Concat(util.ToLE(header), signature, []byte{msVendorCode, 0})
}

// msCompatIDDescriptor assembles one function record per distinct
// mounted class, association de-duplicated like the configuration
// descriptor. Functions without a compatible ID get an empty record.
func (device *Device) msCompatIDDescriptor() []byte {
	functions := make([]byte, 0)
	count := uint8(0)

	var prev *Interface
	for ifNum := uint8(0); ifNum < device.ifCount; ifNum++ {
		itf := device.interfaces[ifNum]
		if itf == prev {
			continue
		}
		prev = itf

		function := msCompatIDFunction{
			BFirstInterfaceNumber: ifNum,
			Reserved1:             1,
		}
		copy(function.CompatibleID[:], itf.compatibleID())
		functions = append(functions, util.ToLE(function)...)
		count++
	}

	header := msCompatIDHeader{
		DwLength:   uint32(int(util.SizeOf[msCompatIDHeader]()) + len(functions)),
		BcdVersion: 0x0100,
		WIndex:     msExtendedCompatIDIndex,
		BCount:     count,
	}
	return util.Concat(util.ToLE(header), functions)
}

// getMsDescriptor serves the vendor-coded Microsoft OS device request.
func (device *Device) getMsDescriptor() error {
	switch device.setup.WIndex {
	case msExtendedCompatIDIndex:
		length := copy(device.ctrlData[:], device.msCompatIDDescriptor())
		return device.CtrlSendData(device.ctrlData[:length])
	default:
		return ErrInvalid
	}
}
