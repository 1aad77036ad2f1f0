package config

import (
	"fmt"
	"strings"
)

// ResponseModeKind discriminates the response_mode grammar of spec.md §6.
type ResponseModeKind int

const (
	ResponseModeFacebook ResponseModeKind = iota
	ResponseModeRule
	ResponseModeStatic
)

// ResponseMode is parsed from a single string of the form
// "facebook:<secret>" | "rule:<module>" | "static:<body>".
type ResponseMode struct {
	Kind     ResponseModeKind
	Facebook string // challenge secret
	Rule     string // module name to invoke synchronously
	Static   string // literal response body
}

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml/v2
// consults for any TOML string value destined for a non-string Go type.
func (r *ResponseMode) UnmarshalText(text []byte) error {
	s := string(text)
	switch {
	case strings.HasPrefix(s, "facebook:"):
		r.Kind = ResponseModeFacebook
		r.Facebook = strings.TrimPrefix(s, "facebook:")
	case strings.HasPrefix(s, "rule:"):
		r.Kind = ResponseModeRule
		r.Rule = strings.TrimPrefix(s, "rule:")
	case strings.HasPrefix(s, "static:"):
		r.Kind = ResponseModeStatic
		r.Static = strings.TrimPrefix(s, "static:")
	default:
		return fmt.Errorf("config: invalid response_mode %q", s)
	}
	return nil
}

// CachingModeKind discriminates the caching_mode variant of spec.md §6.
type CachingModeKind int

const (
	CachingModeNone CachingModeKind = iota
	CachingModeTimed
	CachingModeUsePersistentResponse
)

// CachingMode is parsed from either the bare string "None" or a
// single-key table selecting Timed{validity} or
// UsePersistentResponse{call_on_none}.
type CachingMode struct {
	Kind            CachingModeKind
	ValiditySeconds uint64
	CallOnNone      bool
}

// UnmarshalTOML implements go-toml/v2's Unmarshaler interface, receiving
// the already-decoded value (string, or map[string]any for a table).
func (c *CachingMode) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		if v != "None" {
			return fmt.Errorf("config: invalid caching_mode %q", v)
		}
		c.Kind = CachingModeNone
		return nil
	case map[string]any:
		if t, ok := v["Timed"]; ok {
			table, ok := t.(map[string]any)
			if !ok {
				return fmt.Errorf("config: Timed caching_mode must be a table")
			}
			validity, err := toUint64(table["validity"])
			if err != nil {
				return fmt.Errorf("config: Timed.validity: %w", err)
			}
			c.Kind = CachingModeTimed
			c.ValiditySeconds = validity
			return nil
		}
		if t, ok := v["UsePersistentResponse"]; ok {
			table, _ := t.(map[string]any)
			c.Kind = CachingModeUsePersistentResponse
			if table != nil {
				c.CallOnNone, _ = table["call_on_none"].(bool)
			}
			return nil
		}
		return fmt.Errorf("config: caching_mode table must contain Timed or UsePersistentResponse")
	default:
		return fmt.Errorf("config: invalid caching_mode value %v", value)
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case float64:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

// LogbackKind discriminates the logbacks_allowed grammar: the bare
// string "Unlimited" or a single-key Limited{n} table.
type LogbackKind int

const (
	LogbackUnlimited LogbackKind = iota
	LogbackLimited
)

// LogbackLimit mirrors bus.LogbackBudget's shape at the configuration
// boundary, before internal/logback.Admit converts it into a live budget.
type LogbackLimit struct {
	Kind LogbackKind
	N    uint32
}

// UnmarshalTOML implements go-toml/v2's Unmarshaler interface.
func (l *LogbackLimit) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		if v != "Unlimited" {
			return fmt.Errorf("config: invalid logbacks_allowed %q", v)
		}
		l.Kind = LogbackUnlimited
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("config: negative logbacks_allowed %d", v)
		}
		l.Kind = LogbackLimited
		l.N = uint32(v)
		return nil
	case map[string]any:
		t, ok := v["Limited"]
		if !ok {
			return fmt.Errorf("config: logbacks_allowed table must contain Limited")
		}
		n, err := toUint64(t)
		if err != nil {
			return fmt.Errorf("config: Limited: %w", err)
		}
		l.Kind = LogbackLimited
		l.N = uint32(n)
		return nil
	default:
		return fmt.Errorf("config: invalid logbacks_allowed value %v", value)
	}
}
