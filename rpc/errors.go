package rpc

import (
	"errors"
	"net/http"

	"evergreen/core"
	"evergreen/native/matrix"
	"evergreen/native/token"
)

var callerErrors = []error{
	matrix.ErrReferrerNotFound,
	matrix.ErrAlreadyRegistered,
	matrix.ErrRegistrationCost,
	matrix.ErrNotRegistered,
	matrix.ErrInvalidLevel,
	matrix.ErrIncorrectPayment,
	matrix.ErrInvalidAddress,
	matrix.ErrReentrantCall,
	token.ErrInvalidAmount,
	token.ErrZeroAddress,
	token.ErrInsufficientBalance,
	token.ErrInsufficientAllowance,
}

// fromError maps a node failure onto a JSON-RPC error. Rejections caused by
// the caller keep their reason string as the message.
func fromError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrInvalidNonce) {
		return &RPCError{Code: codeInvalidNonce, Message: err.Error(), status: http.StatusConflict}
	}
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusOK}
		}
	}
	if errors.Is(err, matrix.ErrNotInitialized) || errors.Is(err, core.ErrNodeClosed) {
		return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusServiceUnavailable}
	}
	if errors.Is(err, matrix.ErrNodeOverCapacity) || errors.Is(err, matrix.ErrCascadeDepthExceeded) || errors.Is(err, matrix.ErrCorruptState) {
		return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusInternalServerError}
	}
	return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusOK}
}
