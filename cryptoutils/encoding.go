package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeHex returns the 0x-prefixed lowercase hex encoding of b.
func EncodeHex(b []byte) string {
	return hexutil.Encode(b)
}

// DecodeHex decodes a hex string. The 0x prefix is optional.
func DecodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return hexutil.Decode("0x" + s[2:])
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex format: %w", err)
	}
	return b, nil
}

// RandomBytes reads n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("could not read random bytes: %w", err)
	}
	return b, nil
}
