package matrix

import (
	"errors"

	nativecommon "evergreen/native/common"
)

// Input-validation errors carry the exact reason strings surfaced to callers.
var (
	ErrReferrerNotFound  = errors.New("referrer not exists")
	ErrAlreadyRegistered = errors.New("user exists")
	ErrRegistrationCost  = errors.New("registration cost 1 USDT")
	ErrNotRegistered     = errors.New("user not exists")
	ErrInvalidLevel      = errors.New("invalid level")
	ErrIncorrectPayment  = errors.New("level cost mismatch")
	ErrInvalidAddress    = errors.New("matrix: invalid participant address")
	ErrReentrantCall     = nativecommon.ErrReentrantCall
)

var (
	ErrNilState             = errors.New("matrix: state not configured")
	ErrNilToken             = errors.New("matrix: token not configured")
	ErrNotInitialized       = errors.New("matrix: root not initialised")
	ErrOwnerMismatch        = errors.New("matrix: initialised with a different owner")
	ErrInvalidCatalog       = errors.New("matrix: invalid level catalog")
	ErrInvalidPolicy        = errors.New("matrix: invalid payout policy")
	ErrAmountOverflow       = errors.New("matrix: amount overflows 256 bits")
	ErrNodeOverCapacity     = errors.New("matrix: node over capacity")
	ErrCascadeDepthExceeded = errors.New("matrix: cascade depth exceeded")
	ErrCorruptState         = errors.New("matrix: corrupt state")
)
