package usb

import "github.com/bulwarkid/virtual-usb/util"

// Device feature bits reported by GET_STATUS.
const (
	deviceStatusSelfPowered  uint16 = 1 << 0
	deviceStatusRemoteWakeup uint16 = 1 << 1
)

// deviceRequest handles setup requests with a device recipient. Only
// the standard chapter 9 requests and the Microsoft OS vendor request
// are supported at device level.
func (device *Device) deviceRequest() error {
	switch device.setup.Class() {
	case RequestClassStandard:
		switch device.setup.BRequest {
		case RequestGetDescriptor:
			return device.getDescriptor()
		case RequestSetAddress:
			return device.setAddress()
		case RequestSetConfiguration:
			return device.setConfiguration()
		case RequestGetConfiguration:
			return device.getConfiguration()
		case RequestGetStatus:
			return device.getStatus()
		case RequestSetFeature:
			return device.setFeature()
		case RequestClearFeature:
			return device.clearFeature()
		default:
			return ErrInvalid
		}

	case RequestClassVendor:
		if device.setup.BRequest == Request(msVendorCode) &&
			device.setup.Direction() == DirectionIn {
			return device.getMsDescriptor()
		}
		return ErrInvalid

	default:
		return ErrInvalid
	}
}

// setAddress validates SET_ADDRESS; the new address is applied either
// immediately or after the status stage, depending on the device's
// address policy.
func (device *Device) setAddress() error {
	// Only valid before any configuration is set.
	if device.setup.WIndex != 0 ||
		device.setup.WLength != 0 ||
		device.configSelector != 0 {
		return ErrInvalid
	}
	if device.addressPolicy == SetAddressImmediate {
		return device.port.SetAddress(uint8(device.setup.WValue & 0x7F))
	}
	// Deferred commit happens in ctrlInDone after the status ZLP.
	return nil
}

func (device *Device) setConfiguration() error {
	cfgNum := uint8(device.setup.WValue)
	if cfgNum > maxConfigurationCount {
		return ErrInvalid
	}
	device.setConfig(cfgNum)
	return nil
}

func (device *Device) getConfiguration() error {
	device.ctrlData[0] = device.configSelector
	return device.CtrlSendData(device.ctrlData[:1])
}

func (device *Device) getStatus() error {
	var status uint16
	if device.selfPowered {
		status |= deviceStatusSelfPowered
	}
	if device.remoteWakeup {
		status |= deviceStatusRemoteWakeup
	}
	copy(device.ctrlData[:], util.ToLE(status))
	return device.CtrlSendData(device.ctrlData[:2])
}

func (device *Device) setFeature() error {
	// Remote wakeup is the only settable standard device feature.
	if device.setup.WValue != FeatureRemoteWakeup {
		return ErrInvalid
	}
	device.remoteWakeup = true
	return nil
}

func (device *Device) clearFeature() error {
	if device.setup.WValue != FeatureRemoteWakeup {
		return ErrInvalid
	}
	device.remoteWakeup = false
	return nil
}
