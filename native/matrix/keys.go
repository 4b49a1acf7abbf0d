package matrix

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	participantPrefix = []byte("matrix/participant/")
	idIndexPrefix     = []byte("matrix/id/")
	partnersPrefix    = []byte("matrix/partners/")
	sequenceKey       = []byte("matrix/seq")
	rootKey           = []byte("matrix/root")
	statsKey          = []byte("matrix/stats")
)

func participantKey(addr common.Address) []byte {
	key := make([]byte, 0, len(participantPrefix)+common.AddressLength)
	key = append(key, participantPrefix...)
	return append(key, addr.Bytes()...)
}

func idIndexKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", idIndexPrefix, id))
}

func partnersKey(addr common.Address) []byte {
	key := make([]byte, 0, len(partnersPrefix)+common.AddressLength)
	key = append(key, partnersPrefix...)
	return append(key, addr.Bytes()...)
}

func nodeKey(owner common.Address, level uint8) []byte {
	return []byte(fmt.Sprintf("matrix/node/%d/%x", level, owner.Bytes()))
}

func uplineKey(member common.Address, level uint8) []byte {
	return []byte(fmt.Sprintf("matrix/upline/%d/%x", level, member.Bytes()))
}
