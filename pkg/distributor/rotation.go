package distributor

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// RotationMessageHash is the EIP-191 digest the owner signs to rotate a
// distributor: keccak256(newRoot ++ uint256(generation) ++ distributor), where
// generation is the live generation the new root replaces.
func RotationMessageHash(newRoot []byte, generation uint64, distributor common.Address) []byte {
	word := uint256.NewInt(generation).Bytes32()
	inner := crypto.Keccak256(newRoot, word[:], distributor.Bytes())
	return accounts.TextHash(inner)
}

// SignRotation produces the owner signature POST /root expects, with V in {27, 28}.
func SignRotation(key *ecdsa.PrivateKey, newRoot []byte, generation uint64, distributor common.Address) ([]byte, error) {
	return signDigest(key, RotationMessageHash(newRoot, generation, distributor))
}

// RecoverRotationSigner returns the address whose key produced sig over the
// rotation message.
func RecoverRotationSigner(sig []byte, newRoot []byte, generation uint64, distributor common.Address) (common.Address, error) {
	return recoverDigest(sig, RotationMessageHash(newRoot, generation, distributor))
}
