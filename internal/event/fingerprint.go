package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint computes the stable dedup key for a parsed archive line.
//
// Upstream event IDs are not guaranteed globally unique across archive
// windows, so the hash covers event id + actor id + repo id + created_at.
// Missing components hash as "-" so that absence is itself stable.
func Fingerprint(doc map[string]any) string {
	parts := []string{
		stringField(doc, "id"),
		nestedIDField(doc, "actor"),
		nestedIDField(doc, "repo"),
		stringField(doc, "created_at"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return "-"
}

func nestedIDField(doc map[string]any, key string) string {
	obj, ok := doc[key].(map[string]any)
	if !ok {
		return "-"
	}
	return stringField(obj, "id")
}
