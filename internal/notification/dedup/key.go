package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/smallbiznis/gigledger/internal/notification/domain"
)

// Key derives the idempotency key {type}:{audience}:{projectId}:{reference}.
func Key(t domain.EventType, a domain.Audience, projectID, reference string) string {
	return domain.BuildKey(t, a, projectID, reference)
}

// Quality is the 0-4 completeness score of a metadata bag.
func Quality(m domain.Metadata) int {
	return domain.Quality(m)
}

// Fingerprint identifies an exact repeat: same key and same display data.
// An enriched repeat hashes differently and still reaches the quality comparison.
func Fingerprint(key string, m domain.Metadata) string {
	meta := m.Clone()
	delete(meta, domain.MetaEnrichmentNote)
	// map keys marshal sorted, so equal bags hash equally
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = nil
	}
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))[:40]
}
