// Package usb implements the device side of the USB 2.0 protocol: the
// endpoint state machine, the EP0 control transfer engine, the
// standard request dispatcher, and the interface/configuration manager
// that assembles descriptors from pluggable class drivers.
//
// The package is hardware independent. A peripheral transfer driver
// implements the Port contract and feeds bus events (reset, setup
// packets, transfer completions) into a Device; class drivers mount
// Interface instances carrying a Class capability table and receive
// their control and data traffic through it. Execution is strictly
// event driven: a Device is re-entered only by port events, one at a
// time, and never blocks.
package usb
