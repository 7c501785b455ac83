package identity

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"strconv"
	"time"

	"github.com/Ning0612/rclonesync/internal/domain"
)

// DigestLength is the length of every identifier in hex characters
const DigestLength = md5.Size * 2

// Hasher derives fixed-length lowercase hex digests from arbitrary bytes.
// Cryptographic strength is not required; the digest only has to be
// deterministic and safe to use as part of a file name.
type Hasher interface {
	Hash(input []byte) string
}

// MD5Hasher implements Hasher with a 128-bit MD5 digest
type MD5Hasher struct{}

// NewHasher returns the default hasher
func NewHasher() *MD5Hasher {
	return &MD5Hasher{}
}

// Hash implements the Hasher interface
func (MD5Hasher) Hash(input []byte) string {
	return hashWith(md5.New(), input)
}

func hashWith(h hash.Hash, input []byte) string {
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// StableID derives the pair identifier used for lock-file naming.
//
// Source and destination are concatenated without a separator, so
// ("ab", "c") and ("a", "bc") share an identifier. Existing deployments
// name their lock files this way and it is kept as-is.
func StableID(h Hasher, source, destination string) string {
	return h.Hash([]byte(source + destination))
}

// RunID derives the per-run correlation identifier from the start second
func RunID(h Hasher, start time.Time, stableID string) string {
	return h.Hash([]byte(strconv.FormatInt(start.Unix(), 10) + stableID))
}

// New builds the RunIdentity for a run of pair starting at start
func New(h Hasher, pair domain.Pair, start time.Time) domain.RunIdentity {
	stable := StableID(h, pair.Source, pair.Destination)
	return domain.RunIdentity{
		StableID:  stable,
		RunID:     RunID(h, start, stable),
		StartTime: start,
	}
}
