package main

import (
	"os"

	"github.com/bulwarkid/virtual-usb/usb"
	"github.com/fxamacker/cbor/v2"
)

// deviceProfile is the persisted identity of the demo device, so the
// host sees the same device across runs.
type deviceProfile struct {
	VendorID     uint16 `cbor:"vendor_id"`
	VendorName   string `cbor:"vendor_name"`
	ProductID    uint16 `cbor:"product_id"`
	ProductName  string `cbor:"product_name"`
	Version      uint16 `cbor:"version"`
	SerialNumber []byte `cbor:"serial_number"`

	MaxCurrentMA uint16 `cbor:"max_current_ma"`
	SelfPowered  bool   `cbor:"self_powered"`
	RemoteWakeup bool   `cbor:"remote_wakeup"`
	LPM          bool   `cbor:"lpm"`

	BusNum uint32 `cbor:"bus_num"`
	DevNum uint32 `cbor:"dev_num"`
}

func defaultProfile() *deviceProfile {
	return &deviceProfile{
		VendorID:     0x1209, // pid.codes open-source VID
		VendorName:   "Virtual USB",
		ProductID:    0x0001,
		ProductName:  "Virtual Keyboard",
		Version:      0x0100,
		SerialNumber: []byte{0x00, 0x01},
		MaxCurrentMA: 100,
		BusNum:       2,
		DevNum:       2,
	}
}

func loadProfile(filename string) (*deviceProfile, error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return defaultProfile(), nil
	}
	if err != nil {
		return nil, err
	}
	profile := &deviceProfile{}
	if err := cbor.Unmarshal(data, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func saveProfile(filename string, profile *deviceProfile) error {
	data, err := cbor.Marshal(profile)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func (profile *deviceProfile) description() *usb.Description {
	return &usb.Description{
		Vendor: usb.VendorInfo{
			Name: profile.VendorName,
			ID:   profile.VendorID,
		},
		Product: usb.ProductInfo{
			Name:    profile.ProductName,
			ID:      profile.ProductID,
			Version: profile.Version,
		},
		Config: usb.PowerConfig{
			Name:         "Default",
			MaxCurrentMA: profile.MaxCurrentMA,
			SelfPowered:  profile.SelfPowered,
			RemoteWakeup: profile.RemoteWakeup,
			LPM:          profile.LPM,
		},
		SerialNumber: profile.SerialNumber,
	}
}
