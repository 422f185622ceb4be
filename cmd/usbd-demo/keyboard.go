package main

import (
	"time"

	"github.com/bulwarkid/virtual-usb/hid"
	"github.com/bulwarkid/virtual-usb/usb"
)

// Boot keyboard report descriptor: 8 bytes, modifiers + reserved +
// 6 key usages.
var keyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xE0, //   Usage Minimum (224)
	0x29, 0xE7, //   Usage Maximum (231)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array)
	0xC0, // End Collection
}

const (
	modifierLeftShift uint8 = 0x02

	usageEnter uint8 = 0x28
	usageSpace uint8 = 0x2C
)

func newKeyboard() *hid.HID {
	return hid.New(hid.Config{
		ReportDescriptor: keyboardReportDescriptor,
		InEpAddr:         1,
		MaxPacketSize:    8,
		IntervalMS:       10,
		Subclass:         1, // boot interface
		Protocol:         1, // keyboard
		FunctionName:     "Demo Keyboard",
	})
}

// keyUsage maps an ASCII character to its HID usage and required
// modifier. Unsupported characters map to usage 0.
func keyUsage(char byte) (usage uint8, modifier uint8) {
	switch {
	case char >= 'a' && char <= 'z':
		return char - 'a' + 0x04, 0
	case char >= 'A' && char <= 'Z':
		return char - 'A' + 0x04, modifierLeftShift
	case char >= '1' && char <= '9':
		return char - '1' + 0x1E, 0
	case char == '0':
		return 0x27, 0
	case char == ' ':
		return usageSpace, 0
	case char == '\n':
		return usageEnter, 0
	}
	return 0, 0
}

// sendReport queues one report, waiting out the host's polling cadence
// while the previous report is still in flight.
func sendReport(keyboard *hid.HID, report []byte) error {
	deadline := time.Now().Add(time.Second)
	for {
		err := keyboard.SendReport(report)
		if err != usb.ErrBusy {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

// typeString presses and releases each character as a keyboard report
// pair.
func typeString(keyboard *hid.HID, text string) {
	for i := 0; i < len(text); i++ {
		usage, modifier := keyUsage(text[i])
		if usage == 0 {
			continue
		}
		press := []byte{modifier, 0, usage, 0, 0, 0, 0, 0}
		release := []byte{0, 0, 0, 0, 0, 0, 0, 0}
		if sendReport(keyboard, press) != nil {
			continue
		}
		sendReport(keyboard, release)
	}
}
