package da

import (
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GenerateAuthKey creates a secp256k1 key usable as EIGENDA_AUTH_PK.
func GenerateAuthKey() (string, error) {
	privateKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate auth key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(privateKey)), nil
}
