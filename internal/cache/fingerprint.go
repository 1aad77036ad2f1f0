package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// RelevantHeaders lists the request headers that participate in a GET
// request's fingerprint, chosen to be stable across identical requests
// while excluding volatile proxy/cache headers, in the same "stable,
// commonly-present headers" spirit as pkg/fingerprint.Generate.
var RelevantHeaders = []string{"Accept", "Accept-Encoding", "Authorization"}

// Fingerprint derives the deterministic, restart-stable hash of a GET
// request used to key Timed and UsePersistentResponse cache entries
// (spec.md §4.5/§9's Open Question: "the exact hash function is
// implementation-chosen but must be stable across restarts"). This
// engine resolves it as SHA-256 over path, sorted query parameters, and
// the RelevantHeaders values, hex-encoded — documented in DESIGN.md.
func Fingerprint(path string, query url.Values, header http.Header) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('\n')

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
		b.WriteByte('&')
	}
	b.WriteByte('\n')

	for _, h := range RelevantHeaders {
		b.WriteString(h)
		b.WriteByte('=')
		b.WriteString(header.Get(h))
		b.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
