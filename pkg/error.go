package pkg

import "errors"

// USB protocol errors reported by the channel engine.
var (
	// ErrStall indicates the endpoint answered with STALL.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint kept answering NAK past the retry budget.
	ErrNAK = errors.New("NAK retry budget exhausted")

	// ErrTransaction indicates repeated CRC, bit-stuff, timeout or toggle
	// errors on the bus.
	ErrTransaction = errors.New("transaction error")

	// ErrBabble indicates the device sent more data than the packet allowed.
	ErrBabble = errors.New("babble detected")

	// ErrTimeout indicates the channel never halted within its poll budget.
	ErrTimeout = errors.New("transfer timeout")

	// ErrProtocol indicates a completion status the engine cannot classify.
	ErrProtocol = errors.New("protocol error")

	// ErrControlTransfer indicates a control transfer stage failed.
	ErrControlTransfer = errors.New("control transfer failed")
)

// Controller and device state errors.
var (
	// ErrHardwareAbsent indicates the host controller did not respond.
	ErrHardwareAbsent = errors.New("host controller not responding")

	// ErrNotConnected indicates no device is attached to the port.
	ErrNotConnected = errors.New("device not connected")

	// ErrNotReady indicates the device has not finished enumeration.
	ErrNotReady = errors.New("device not ready")

	// ErrAlreadyRunning indicates enumeration is already in progress.
	ErrAlreadyRunning = errors.New("already running")

	// ErrBusy indicates a channel already has a transfer outstanding.
	ErrBusy = errors.New("channel busy")
)

// Caller errors.
var (
	// ErrInvalidEndpoint indicates an endpoint not present in the device model.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid argument.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")
)

// TransferStatus is the classified outcome of one channel transaction.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess TransferStatus = iota
	TransferStatusStall
	TransferStatusNAK
	TransferStatusTransactionError
	TransferStatusBabble
	TransferStatusTimeout
	TransferStatusError
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusStall:
		return "stall"
	case TransferStatusNAK:
		return "nak"
	case TransferStatusTransactionError:
		return "xact"
	case TransferStatusBabble:
		return "babble"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusNAK:
		return ErrNAK
	case TransferStatusTransactionError:
		return ErrTransaction
	case TransferStatusBabble:
		return ErrBabble
	case TransferStatusTimeout:
		return ErrTimeout
	default:
		return ErrProtocol
	}
}

// Retryable reports whether the engine resubmits a transaction with this
// status instead of surfacing it.
func (s TransferStatus) Retryable() bool {
	return s == TransferStatusNAK || s == TransferStatusTransactionError
}
