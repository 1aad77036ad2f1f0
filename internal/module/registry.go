package module

import "github.com/plaidrun/plaid/internal/bus"

// Registry is the read-only channel→modules reverse index built once by
// Loader.LoadAll. Safe for concurrent reads with no locking — spec.md
// §5: "Module registry is read-only after startup."
type Registry struct {
	byName    map[string]*Module
	byChannel map[string][]*Module
}

func buildRegistry(modules []*Module) *Registry {
	r := &Registry{
		byName:    make(map[string]*Module, len(modules)),
		byChannel: make(map[string][]*Module),
	}
	for _, m := range modules {
		r.byName[m.cfg.Name] = m
		for _, ch := range m.cfg.Channels {
			r.byChannel[ch] = append(r.byChannel[ch], m)
		}
	}
	return r
}

// Get returns the module registered under name, or nil if none.
func (r *Registry) Get(name string) *Module {
	return r.byName[name]
}

// All returns every registered module, in no particular order.
func (r *Registry) All() []*Module {
	out := make([]*Module, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	return out
}

// ModulesForChannel implements bus.Registry: it returns every module
// subscribing to channel, satisfying the "dispatch fan-out" property of
// spec.md §8 (delivered to exactly the set of modules subscribing to C,
// once per module).
func (r *Registry) ModulesForChannel(channel string) []bus.Dispatchable {
	subs := r.byChannel[channel]
	if len(subs) == 0 {
		return nil
	}
	out := make([]bus.Dispatchable, len(subs))
	for i, m := range subs {
		out[i] = m
	}
	return out
}
