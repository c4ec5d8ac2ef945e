package permit

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a permit signature split into the components expected by
// depositWithPermit.
type Signature struct {
	V        uint8        `json:"v"`
	R        common.Hash  `json:"r"`
	S        common.Hash  `json:"s"`
	Deadline *hexutil.Big `json:"deadline,omitempty"`
}

// SplitSignature splits a 65-byte [R || S || V] signature. V is normalised
// to 27 or 28.
func SplitSignature(raw []byte) (Signature, error) {
	if len(raw) != crypto.SignatureLength {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(raw))
	}
	v := raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return Signature{}, fmt.Errorf("invalid recovery id %d", raw[64])
	}
	return Signature{
		V: v,
		R: common.BytesToHash(raw[:32]),
		S: common.BytesToHash(raw[32:64]),
	}, nil
}

// SplitHex decodes a 0x-prefixed signature and splits it.
func SplitHex(encoded string) (Signature, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return Signature{}, fmt.Errorf("decode signature: %w", err)
	}
	return SplitSignature(raw)
}

// Bytes reassembles the 65-byte signature with V in {27, 28}.
func (s Signature) Bytes() []byte {
	out := make([]byte, crypto.SignatureLength)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("invalid v %d", sig.V)
	}
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
