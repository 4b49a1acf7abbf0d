package state

import (
	"fmt"
)

var accountNoncePrefix = []byte("account/nonce/")

func accountNonceKey(addr []byte) []byte {
	buf := make([]byte, len(accountNoncePrefix)+len(addr))
	copy(buf, accountNoncePrefix)
	copy(buf[len(accountNoncePrefix):], addr)
	return buf
}

// Nonce returns the number of calls the account has committed so far.
func (m *Manager) Nonce(addr []byte) (uint64, error) {
	if len(addr) == 0 {
		return 0, fmt.Errorf("address must not be empty")
	}
	var nonce uint64
	if _, err := m.KVGet(accountNonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// IncrementNonce bumps the account nonce and returns the new value.
func (m *Manager) IncrementNonce(addr []byte) (uint64, error) {
	current, err := m.Nonce(addr)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.KVPut(accountNonceKey(addr), next); err != nil {
		return 0, err
	}
	return next, nil
}
