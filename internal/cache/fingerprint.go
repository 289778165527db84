package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Fingerprint hashes content together with every field of the context. Each
// part is length-prefixed so ("ab","c") and ("a","bc") never collide.
func Fingerprint(content string, pc entity.ProcessingContext) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{content, pc.SchemaKey(), pc.Instructions(), pc.ModelID()} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
