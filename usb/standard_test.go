package usb

import (
	"bytes"
	"testing"

	"github.com/bulwarkid/virtual-usb/test"
	"github.com/bulwarkid/virtual-usb/util"
)

func TestGetStatus(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetStatus, 0, 0, 2))
	status := util.FromLE[uint16](response)
	test.AssertEqual(t, status, deviceStatusSelfPowered, "Self powered bit not set")
}

func TestRemoteWakeupFeature(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	test.AssertError(t, device.SignalRemoteWakeup(), ErrFeatureDisabled, "Wakeup allowed before host enabled it")

	controlNoData(t, device, port, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestSetFeature, FeatureRemoteWakeup, 0, 0))
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetStatus, 0, 0, 2))
	status := util.FromLE[uint16](response)
	test.AssertEqual(t, status&deviceStatusRemoteWakeup, deviceStatusRemoteWakeup, "Remote wakeup bit not set")

	controlNoData(t, device, port, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestClearFeature, FeatureRemoteWakeup, 0, 0))
	test.AssertError(t, device.SignalRemoteWakeup(), ErrFeatureDisabled, "Wakeup allowed after host disabled it")
}

func TestUnknownFeatureRejected(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	submitSetup(device, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestSetFeature, FeatureTestMode, 0, 0))
	test.AssertEqual(t, port.ep0Stalled(), true, "Unknown feature accepted")
}

func TestGetSetConfiguration(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	inits := 0
	deinits := 0
	itf := &Interface{Class: &Class{
		Init:   func(itf *Interface) { inits++ },
		Deinit: func(itf *Interface) { deinits++ },
	}}
	test.AssertNoError(t, device.Mount(itf, 1), "Could not mount interface")

	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetConfiguration, 0, 0, 1))
	test.AssertEqual(t, response[0], 0, "Configured before SET_CONFIGURATION")

	configure(t, device, port)
	test.AssertEqual(t, inits, 1, "Interface not initialized")

	response = controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetConfiguration, 0, 0, 1))
	test.AssertEqual(t, response[0], 1, "Wrong active configuration")

	controlNoData(t, device, port, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestSetConfiguration, 0, 0, 0))
	test.AssertEqual(t, deinits, 1, "Interface not deinitialized")
	test.AssertEqual(t, device.Configured(), false, "Device still configured")
}

func TestInvalidConfigurationRejected(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	submitSetup(device, standardSetup(
		DirectionOut, RequestRecipientDevice, RequestSetConfiguration, 2, 0, 0))
	test.AssertEqual(t, port.ep0Stalled(), true, "Out-of-range configuration accepted")
}

func TestStringDescriptors(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)

	langIDs := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeString)<<8|uint16(StringIndexLangID), 0, 255))
	test.AssertEqual(t, util.FromLE[uint16](langIDs[2:4]), LangIDEngUSA, "Wrong language ID")

	vendor := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeString)<<8|uint16(StringIndexVendor), 0, 255))
	test.AssertBytesEqual(t, vendor[2:], util.Utf16encode("Test Vendor"), "Wrong vendor string")
	test.AssertEqual(t, int(vendor[0]), len(vendor), "Wrong bLength")
}

func TestSerialNumberExpandsBCD(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	serial := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeString)<<8|uint16(StringIndexSerial), 0, 255))
	test.AssertBytesEqual(t, serial[2:], util.Utf16encode("1234"), "BCD serial not expanded to hex digits")
}

func TestDeviceQualifier(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeDeviceQualifier)<<8, 0, 64))
	qualifier := util.ReadLE[DeviceQualifierDescriptor](bytes.NewBuffer(response))
	test.AssertEqual(t, qualifier.BDescriptorType, DescriptorTypeDeviceQualifier, "Wrong descriptor type")
	test.AssertEqual(t, qualifier.BNumConfigurations, 1, "Wrong configuration count")

	// Full speed devices have no other-speed qualifier.
	device.Reset(SpeedFull)
	submitSetup(device, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeDeviceQualifier)<<8, 0, 64))
	test.AssertEqual(t, port.ep0Stalled(), true, "Qualifier served at full speed")
}

func TestOtherSpeedConfiguration(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeOtherSpeedConfig)<<8, 0, 255))
	test.AssertEqual(t, DescriptorType(response[1]), DescriptorTypeOtherSpeedConfig, "Descriptor type not patched")
}

func TestBOSDescriptor(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeBOS)<<8, 0, 255))
	bos := util.ReadLE[bosDescriptor](bytes.NewBuffer(response))
	test.AssertEqual(t, bos.BDescriptorType, DescriptorTypeBOS, "Wrong descriptor type")
	test.AssertEqual(t, int(bos.WTotalLength), len(response), "Wrong total length")
	test.AssertEqual(t, bos.BNumDeviceCaps, 1, "Wrong capability count")
	capability := util.ReadLE[deviceCapabilityDescriptor](bytes.NewBuffer(response[bos.BLength:]))
	test.AssertEqual(t, capability.BDevCapabilityType, capabilityTypeUSB2Ext, "Wrong capability type")
	test.AssertEqual(t, capability.BmAttributes, 0, "LPM bits set without LPM")
}

func TestMsOSStringDescriptor(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeString)<<8|uint16(stringIndexMsOS), 0, 18))
	test.AssertEqual(t, len(response), 18, "Wrong OS string descriptor length")
	test.AssertBytesEqual(t, response[2:16], util.Utf16encode("MSFT100"), "Wrong OS descriptor signature")
	test.AssertEqual(t, response[16], msVendorCode, "Wrong vendor code")
}

func TestMsCompatIDDescriptor(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	itf := &Interface{Class: &Class{CompatibleID: "HID"}}
	test.AssertNoError(t, device.Mount(itf, 1), "Could not mount interface")

	setup := SetupRequest{
		BRequest: Request(msVendorCode),
		WIndex:   msExtendedCompatIDIndex,
		WLength:  256,
	}
	setup.SetDirection(DirectionIn)
	setup.SetClass(RequestClassVendor)
	setup.SetRecipient(RequestRecipientDevice)
	response := controlRead(t, device, port, setup)

	header := util.ReadLE[msCompatIDHeader](bytes.NewBuffer(response))
	test.AssertEqual(t, int(header.DwLength), len(response), "Wrong total length")
	test.AssertEqual(t, header.BCount, 1, "Wrong function count")
	function := util.ReadLE[msCompatIDFunction](bytes.NewBuffer(response[util.SizeOf[msCompatIDHeader]():]))
	test.AssertEqual(t, function.BFirstInterfaceNumber, 0, "Wrong first interface")
	compatibleID := util.CStringToString(function.CompatibleID[:])
	test.AssertEqual(t, compatibleID, "HID", "Wrong compatible ID")
}
