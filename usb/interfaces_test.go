package usb

import (
	"bytes"
	"testing"

	"github.com/bulwarkid/virtual-usb/test"
	"github.com/bulwarkid/virtual-usb/util"
)

// classRecorder counts lifecycle callbacks for one mounted class
// instance.
type classRecorder struct {
	inits    int
	deinits  int
	getDescs int
	strings  []uint8
}

func recordedClass(recorder *classRecorder, descriptors func(ifNum uint8, dest []byte) int) *Class {
	return &Class{
		GetDescriptor: func(itf *Interface, ifNum uint8, dest []byte) int {
			recorder.getDescs++
			if descriptors == nil {
				return 0
			}
			return descriptors(ifNum, dest)
		},
		GetString: func(itf *Interface, localIndex uint8) string {
			recorder.strings = append(recorder.strings, localIndex)
			return "Recorded"
		},
		Init:   func(itf *Interface) { recorder.inits++ },
		Deinit: func(itf *Interface) { recorder.deinits++ },
	}
}

func TestMountCapacity(t *testing.T) {
	device, _ := newTestDevice(t)
	for i := 0; i < MaxInterfaces; i++ {
		itf := &Interface{Class: &Class{}}
		test.AssertNoError(t, device.Mount(itf, 1), "Mount within capacity failed")
	}
	itf := &Interface{Class: &Class{}}
	test.AssertError(t, device.Mount(itf, 1), ErrStackFull, "Mount over capacity accepted")
	test.AssertEqual(t, device.InterfaceCount(), MaxInterfaces, "Failed mount changed interface count")
}

func TestMountMultiSlotOverCapacity(t *testing.T) {
	device, _ := newTestDevice(t)
	itf := &Interface{Class: &Class{}}
	test.AssertNoError(t, device.Mount(itf, MaxInterfaces-1), "Mount within capacity failed")
	second := &Interface{Class: &Class{}}
	test.AssertError(t, device.Mount(second, 2), ErrStackFull, "Partial claim accepted")
}

func TestMountRejectsControlEndpointClaim(t *testing.T) {
	device, _ := newTestDevice(t)
	itf := &Interface{Class: &Class{}}
	err := device.Mount(itf, 1, EndpointConfig{Addr: 0x80, Type: EndpointTypeBulk, MaxPacketSize: 64})
	test.AssertError(t, err, ErrInvalidEndpoint, "Endpoint 0 claim accepted")
}

func TestMountRejectsConflictingEndpointClaim(t *testing.T) {
	device, _ := newTestDevice(t)
	first := &Interface{Class: &Class{}}
	test.AssertNoError(t, device.Mount(first, 1,
		EndpointConfig{Addr: 0x81, Type: EndpointTypeInterrupt, MaxPacketSize: 64}),
		"Could not mount first interface")

	second := &Interface{Class: &Class{}}
	err := device.Mount(second, 1,
		EndpointConfig{Addr: 0x81, Type: EndpointTypeBulk, MaxPacketSize: 512})
	test.AssertError(t, err, ErrInvalidEndpoint, "Conflicting endpoint claim accepted")

	// The first claim still owns the record.
	test.AssertEqual(t, device.epIn[1].ifNum, first.Number(), "Endpoint owner overwritten")
	test.AssertEqual(t, device.epIn[1].Type, EndpointTypeInterrupt, "Endpoint type overwritten")
	test.AssertEqual(t, device.InterfaceCount(), uint8(1), "Failed mount consumed a slot")
}

func TestAssociationSharesOneRecord(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)

	associated := &classRecorder{}
	assocItf := &Interface{Class: recordedClass(associated, func(ifNum uint8, dest []byte) int {
		// A two-interface function: IAD plus both interface
		// descriptors.
		data := util.Concat(
			util.ToLE(InterfaceAssociationDescriptor{
				BLength:         util.SizeOf[InterfaceAssociationDescriptor](),
				BDescriptorType: DescriptorTypeAssociation,
				BFirstInterface: ifNum,
				BInterfaceCount: 2,
				BFunctionClass:  0x02,
			}),
			util.ToLE(InterfaceDescriptor{
				BLength:          util.SizeOf[InterfaceDescriptor](),
				BDescriptorType:  DescriptorTypeInterface,
				BInterfaceNumber: ifNum,
				BInterfaceClass:  0x02,
			}),
			util.ToLE(InterfaceDescriptor{
				BLength:          util.SizeOf[InterfaceDescriptor](),
				BDescriptorType:  DescriptorTypeInterface,
				BInterfaceNumber: ifNum + 1,
				BInterfaceClass:  0x0A,
			}),
		)
		return copy(dest, data)
	})}
	test.AssertNoError(t, device.Mount(assocItf, 2), "Could not mount association")

	single := &classRecorder{}
	singleItf := &Interface{Class: recordedClass(single, func(ifNum uint8, dest []byte) int {
		return copy(dest, util.ToLE(InterfaceDescriptor{
			BLength:          util.SizeOf[InterfaceDescriptor](),
			BDescriptorType:  DescriptorTypeInterface,
			BInterfaceNumber: ifNum,
			BInterfaceClass:  0x03,
		}))
	})}
	test.AssertNoError(t, device.Mount(singleItf, 1), "Could not mount single interface")
	test.AssertEqual(t, singleItf.Number(), 2, "Association did not claim two slots")

	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeConfiguration)<<8, 0, 255))
	configuration := util.ReadLE[ConfigurationDescriptor](bytes.NewBuffer(response))
	test.AssertEqual(t, configuration.BNumInterfaces, 3, "Association slots not counted")
	test.AssertEqual(t, int(configuration.WTotalLength), len(response), "Wrong total length")
	test.AssertEqual(t, associated.getDescs, 1, "Shared record queried per slot")
	test.AssertEqual(t, single.getDescs, 1, "Single record not queried once")

	// Configuration lifecycle is also per record, not per slot.
	configure(t, device, port)
	test.AssertEqual(t, associated.inits, 1, "Shared record initialized per slot")
	test.AssertEqual(t, single.inits, 1, "Single record not initialized")
}

func TestSetAlternateIsolation(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	first := &classRecorder{}
	firstItf := &Interface{Class: recordedClass(first, nil), AltCount: 2}
	second := &classRecorder{}
	secondItf := &Interface{Class: recordedClass(second, nil)}
	test.AssertNoError(t, device.Mount(firstItf, 1), "Could not mount interface")
	test.AssertNoError(t, device.Mount(secondItf, 1), "Could not mount interface")
	configure(t, device, port)

	controlNoData(t, device, port, standardSetup(
		DirectionOut, RequestRecipientInterface, RequestSetInterface, 1, 0, 0))
	test.AssertEqual(t, firstItf.AltSelector, 1, "Alternate setting not applied")
	test.AssertEqual(t, first.deinits, 1, "Interface not cycled for alternate")
	test.AssertEqual(t, first.inits, 2, "Interface not reinitialized for alternate")
	test.AssertEqual(t, second.deinits, 0, "Sibling interface cycled")
	test.AssertEqual(t, second.inits, 1, "Sibling interface reinitialized")

	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientInterface, RequestGetInterface, 0, 0, 1))
	test.AssertEqual(t, response[0], 1, "GET_INTERFACE reports wrong setting")
}

func TestSetAlternateOutOfRange(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	itf := &Interface{Class: &Class{}}
	test.AssertNoError(t, device.Mount(itf, 1), "Could not mount interface")
	configure(t, device, port)
	submitSetup(device, standardSetup(
		DirectionOut, RequestRecipientInterface, RequestSetInterface, 1, 0, 0))
	test.AssertEqual(t, port.ep0Stalled(), true, "Out-of-range alternate accepted")
	test.AssertEqual(t, itf.AltSelector, 0, "Alternate changed on rejection")
}

func TestInterfaceRequestsRequireConfiguration(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	itf := &Interface{Class: &Class{}}
	test.AssertNoError(t, device.Mount(itf, 1), "Could not mount interface")
	submitSetup(device, standardSetup(
		DirectionIn, RequestRecipientInterface, RequestGetInterface, 0, 0, 1))
	test.AssertEqual(t, port.ep0Stalled(), true, "Interface request served unconfigured")
}

func TestInterfaceStringRouting(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	first := &classRecorder{}
	firstItf := &Interface{Class: recordedClass(first, nil)}
	second := &classRecorder{}
	secondItf := &Interface{Class: recordedClass(second, nil)}
	test.AssertNoError(t, device.Mount(firstItf, 1), "Could not mount interface")
	test.AssertNoError(t, device.Mount(secondItf, 1), "Could not mount interface")

	index := InterfaceStringIndex(1, 3)
	response := controlRead(t, device, port, standardSetup(
		DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(DescriptorTypeString)<<8|uint16(index), 0, 255))
	test.AssertBytesEqual(t, response[2:], util.Utf16encode("Recorded"), "Wrong string returned")
	test.AssertEqual(t, len(first.strings), 0, "String request routed to wrong interface")
	test.AssertEqual(t, len(second.strings), 1, "String request not routed")
	test.AssertEqual(t, second.strings[0], 3, "Wrong local string index")
}

func TestUnmountInterfaces(t *testing.T) {
	device, port := newTestDevice(t)
	device.Reset(SpeedHigh)
	recorder := &classRecorder{}
	itf := &Interface{Class: recordedClass(recorder, nil)}
	test.AssertNoError(t, device.Mount(itf, 1, EndpointConfig{
		Addr: 0x81, Type: EndpointTypeInterrupt, MaxPacketSize: 64,
	}), "Could not mount interface")
	configure(t, device, port)

	device.UnmountInterfaces()
	test.AssertEqual(t, recorder.deinits, 1, "Interface not deinitialized on unmount")
	test.AssertEqual(t, device.InterfaceCount(), 0, "Interfaces still mounted")
	test.AssertEqual(t, device.Configured(), false, "Device still configured")

	// The endpoint claim is released for the next mount.
	test.AssertEqual(t, device.epIn[1].ifNum, 0, "Endpoint claim not released")
	test.AssertEqual(t, device.epIn[1].State, EndpointStateClosed, "Endpoint still open")
}
