package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marketvault/crypto"
)

var (
	marketStateKey  = ethcrypto.Keccak256([]byte("market-state"))
	unpaidQueueKey  = ethcrypto.Keccak256([]byte("market-unpaid-queue"))
	accountPrefix   = []byte("market-account:")
	batchPrefix     = []byte("market-batch:")
	statusPrefix    = []byte("market-status:")
	rolePrefix      = []byte("registry-role:")
	tokenPrefix     = []byte("token-account:")
	allowancePrefix = []byte("token-allowance:")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr crypto.Address) []byte {
	return prefixedKey(accountPrefix, addr.Bytes())
}

func batchKey(expiry uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], expiry)
	return prefixedKey(batchPrefix, buf[:])
}

func statusKey(expiry uint64, addr crypto.Address) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], expiry)
	return prefixedKey(statusPrefix, buf[:], addr.Bytes())
}

func roleKey(addr crypto.Address) []byte {
	return prefixedKey(rolePrefix, addr.Bytes())
}

func tokenKey(addr crypto.Address) []byte {
	return prefixedKey(tokenPrefix, addr.Bytes())
}

func allowanceKey(owner, spender crypto.Address) []byte {
	return prefixedKey(allowancePrefix, owner.Bytes(), spender.Bytes())
}
