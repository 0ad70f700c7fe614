package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
	"time"
)

// ComputeHash returns the chain hash of entry over prevHash. The entry's own
// PrevHash and Hash fields are ignored. Each field is length-prefixed so that
// no two distinct entries share an encoding.
func ComputeHash(prevHash string, e Entry) string {
	h := sha256.New()
	writeField(h, prevHash)
	writeField(h, strconv.FormatUint(uint64(e.ID), 10))
	writeField(h, e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(h, string(e.Action))
	writeField(h, e.Actor)
	writeField(h, e.QueryDescriptor)
	writeField(h, e.RuleSetVersion)
	writeField(h, strconv.FormatFloat(e.EpsilonConsumed, 'g', -1, 64))
	writeField(h, string(e.Outcome))
	writeField(h, e.Stage)
	writeField(h, string(e.Severity))
	writeField(h, e.Reason)
	writeField(h, e.RequestID)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// DescriptorHash hashes a canonical query descriptor for storage in an entry.
func DescriptorHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// verifier folds entries in ID order and remembers where the chain broke.
type verifier struct {
	expectID EntryID
	prevHash string
	checked  int
}

func (v *verifier) step(e Entry) bool {
	v.checked++
	if e.ID != v.expectID || e.PrevHash != v.prevHash || ComputeHash(v.prevHash, e) != e.Hash {
		return false
	}
	v.prevHash = e.Hash
	v.expectID++
	return true
}
