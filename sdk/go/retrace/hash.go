package retrace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SnapshotHashLen is the length in hex characters of a snapshot hash.
const SnapshotHashLen = 16

// NewID returns a fresh opaque identifier (a UUIDv4 string). Callers may
// substitute their own stable IDs anywhere an ID is accepted.
func NewID() string {
	return uuid.NewString()
}

// SnapshotHash fingerprints a snapshot: the canonical form (map keys
// sorted lexicographically at every level, non-JSON values stringified)
// is hashed with SHA-256 and truncated to SnapshotHashLen hex characters.
// The server computes the same function; matching hashes mean matching
// snapshots for change detection, not tamper-proofing.
func SnapshotHash(snapshot map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, snapshot)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:SnapshotHashLen]
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		enc, _ := json.Marshal(val)
		b.Write(enc)
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		b.WriteString(val.String())
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			b.Write(enc)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		enc, _ := json.Marshal(fmt.Sprintf("%v", val))
		b.Write(enc)
	}
}
