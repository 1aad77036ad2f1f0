package module

import "testing"

func TestConfig_CanCallAPI(t *testing.T) {
	cfg := Config{
		AllowedAPIMethods: map[string][]string{
			"slack": {"postMessage"},
			"jira":  {"*"},
		},
	}

	cases := []struct {
		namespace, method string
		want              bool
	}{
		{"slack", "postMessage", true},
		{"slack", "deleteMessage", false},
		{"jira", "anything", true},
		{"zendesk", "createTicket", false},
	}

	for _, c := range cases {
		if got := cfg.CanCallAPI(c.namespace, c.method); got != c.want {
			t.Errorf("CanCallAPI(%q, %q) = %v, want %v", c.namespace, c.method, got, c.want)
		}
	}
}
