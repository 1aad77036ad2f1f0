package respcache

import "time"

// CachingKind discriminates the three caching_mode variants of spec.md
// §4.5/§6, decoupled from internal/config's TOML-shaped representation
// so this package has no parsing dependency.
type CachingKind int

const (
	CachingNone CachingKind = iota
	CachingTimed
	CachingUsePersistentResponse
)

// CachingMode is the resolved, ready-to-evaluate form of a webhook
// entry's get_mode.caching_mode, built by internal/httpgateway from the
// parsed config.CachingMode.
type CachingMode struct {
	Kind       CachingKind
	Validity   time.Duration
	CallOnNone bool
}
