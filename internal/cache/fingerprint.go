package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// Fingerprint returns the exact-tier cache key: SHA-256 hex of the normalized
// query text plus the canonical form of the active filter set. Two requests
// with the same words but different filters must never share an entry.
func Fingerprint(query string, filters model.SearchFilters) string {
	var b strings.Builder
	b.WriteString(normalizeQuery(query))
	b.WriteByte('\n')

	docs := append([]string(nil), filters.DocIDs...)
	sort.Strings(docs)
	b.WriteString(strings.Join(docs, ","))
	b.WriteByte('\n')

	sections := append([]string(nil), filters.SectionIDs...)
	sort.Strings(sections)
	b.WriteString(strings.Join(sections, ","))
	b.WriteByte('\n')

	fmt.Fprintf(&b, "%.4f", filters.MinQuality)

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

// normalizeQuery lowercases and collapses whitespace so trivially different
// spellings of the same query share a fingerprint.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
