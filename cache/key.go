package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Key derives the cache key for a request. The query is encoded with keys
// sorted, so semantically identical requests map to the same entry
// regardless of parameter ordering. The signature is hashed with sha256 so
// distinct parameter sets cannot collide on filesystem-unfriendly names.
func Key(method, rawURL string, query url.Values) string {
	signature := method + " " + rawURL
	if len(query) > 0 {
		// url.Values.Encode sorts by key.
		signature += "?" + query.Encode()
	}
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])
}
