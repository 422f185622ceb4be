package usb

import "errors"

// Operation results. A nil error means the request was accepted.
var (
	// ErrBusy rejects a transfer on an endpoint that is mid-transfer.
	// The caller may retry later; this is never a protocol fault.
	ErrBusy = errors.New("endpoint busy")

	// ErrInvalid rejects a request that is not supported by the
	// addressed recipient in its current state. On the control pipe it
	// surfaces to the host as a Request Error (EP0 stall).
	ErrInvalid = errors.New("request not supported")

	// ErrStackFull reports that the fixed-size interface table cannot
	// hold another mounted interface. Mount-time only.
	ErrStackFull = errors.New("interface table full")

	// ErrInvalidEndpoint reports an endpoint address outside the
	// device's endpoint table.
	ErrInvalidEndpoint = errors.New("invalid endpoint address")

	// ErrNotUnconfigured reports an operation that is only permitted
	// while no configuration is active.
	ErrNotUnconfigured = errors.New("device is configured")

	// ErrFeatureDisabled reports remote wakeup signaling without the
	// host having enabled the feature.
	ErrFeatureDisabled = errors.New("feature not enabled by host")

	// ErrWrongPhase reports CtrlSendData/CtrlReceiveData calls outside
	// the setup stage of a matching-direction control transfer.
	ErrWrongPhase = errors.New("not in matching control transfer phase")
)
