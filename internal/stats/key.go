package stats

import (
	"fmt"
	"strings"
)

const keyPrefix = "stats"

// Variant separates link counters from playlist follower snapshots.
type Variant string

const (
	VariantLink     Variant = "link"
	VariantPlaylist Variant = "playlist"
)

// Bucket hash fields.
const (
	fieldVisits    = "visits"
	fieldClicks    = "clicks"
	fieldFollowers = "followers"
	fieldGained    = "gained"
	fieldLost      = "lost"
)

// BucketKey identifies one counter bucket. Domain code passes the struct
// around; only the redis layer turns it into a string.
type BucketKey struct {
	ID      string
	Variant Variant
	Day     Day
}

// redisKey renders stats:<id>:<variant>:<YYYY-MM-DD>.
func (k BucketKey) redisKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, k.ID, k.Variant, k.Day)
}

// parseBucketKey is the inverse of redisKey. The id may itself contain
// colons, so the variant and day are taken from the right.
func parseBucketKey(s string) (BucketKey, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix+":")
	if !ok {
		return BucketKey{}, fmt.Errorf("key %q: missing %s prefix", s, keyPrefix)
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return BucketKey{}, fmt.Errorf("key %q: missing day", s)
	}
	day, err := ParseDay(rest[i+1:])
	if err != nil {
		return BucketKey{}, fmt.Errorf("key %q: %w", s, err)
	}
	rest = rest[:i]
	j := strings.LastIndexByte(rest, ':')
	if j <= 0 {
		return BucketKey{}, fmt.Errorf("key %q: missing variant or id", s)
	}
	v := Variant(rest[j+1:])
	if v != VariantLink && v != VariantPlaylist {
		return BucketKey{}, fmt.Errorf("key %q: unknown variant %q", s, v)
	}
	return BucketKey{ID: rest[:j], Variant: v, Day: day}, nil
}

// scanPattern matches every bucket of id. Glob metacharacters in the id are
// escaped.
func scanPattern(id string) string {
	if id == "" {
		return keyPrefix + ":*"
	}
	var b strings.Builder
	for _, r := range id {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s:%s:*", keyPrefix, b.String())
}
