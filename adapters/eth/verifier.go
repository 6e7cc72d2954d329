package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/usdcpay/ports"
)

// PersonalSignVerifier checks EIP-191 personal_sign signatures.
type PersonalSignVerifier struct{}

func NewPersonalSignVerifier() ports.SignatureVerifier {
	return PersonalSignVerifier{}
}

// Verify reports whether signature is claimedAddress signing message.
// Any malformed input yields false.
func (PersonalSignVerifier) Verify(message, signature, claimedAddress string) bool {
	if !common.IsHexAddress(claimedAddress) {
		return false
	}

	recovered, ok := RecoverAddress(message, signature)
	if !ok {
		return false
	}

	return strings.EqualFold(recovered.Hex(), claimedAddress)
}

// RecoverAddress returns the address that produced a personal_sign signature.
func RecoverAddress(message, signature string) (common.Address, bool) {
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, false
	}

	// Wallets emit v as 27/28; the recovery id must be 0/1.
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return common.Address{}, false
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, false
	}

	return crypto.PubkeyToAddress(*pub), true
}
