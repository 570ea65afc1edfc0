package lighter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverTxSigner devuelve la dirección que firmó un tx_info.
func RecoverTxSigner(txInfo string) (common.Address, error) {
	canonical, sigHex, err := canonicalTxInfo([]byte(txInfo))
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %w", err)
	}
	if sigHex == "" {
		return common.Address{}, errors.New("recover: unsigned tx info")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: decode sig: %w", err)
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(canonical), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
