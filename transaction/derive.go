package transaction

import (
	"encoding/binary"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/bartossh/Courier/address"
)

const idFlag = uint64(1) << 63

var ErrEmptyNamespaceName = errors.New("namespace name is empty")

// NamespaceID derives id of the namespace with the name under the parent, zero parent means root.
func NamespaceID(name string, parent uint64) uint64 {
	h := sha3.New256()
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], parent)
	h.Write(p[:])
	h.Write([]byte(name))
	return binary.LittleEndian.Uint64(h.Sum(nil)[:8]) | idFlag
}

// NamespacePath derives ids of every level of the dot separated full namespace name,
// starting from the root.
func NamespacePath(fullName string) ([]uint64, error) {
	parts := strings.Split(fullName, ".")
	path := make([]uint64, 0, len(parts))
	var parent uint64
	for _, p := range parts {
		if p == "" {
			return nil, ErrEmptyNamespaceName
		}
		parent = NamespaceID(p, parent)
		path = append(path, parent)
	}
	return path, nil
}

// MosaicID derives id of the mosaic defined by the owner with the nonce.
func MosaicID(owner address.Address, nonce uint32) uint64 {
	h := sha3.New256()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], nonce)
	h.Write(n[:])
	h.Write(owner[:])
	return binary.LittleEndian.Uint64(h.Sum(nil)[:8]) &^ idFlag
}

// MetadataKey derives the scoped metadata key from its textual name.
func MetadataKey(name string) uint64 {
	h := sha3.Sum256([]byte(name))
	return binary.LittleEndian.Uint64(h[:8]) | idFlag
}
