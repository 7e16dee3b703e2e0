package interceptor

import (
	"fmt"
	"sync"
)

// Factory builds a fresh Plugin instance. Plugins register a Factory
// under a name at init time (see plugin.init functions); --plugins then
// selects among them by name, since a scripting runtime for arbitrary
// plugin code is out of scope.
type Factory func() Plugin

var (
	registryMu sync.Mutex
	factories  = map[string]Factory{}
)

// Register adds a named plugin factory to the in-process registry.
// Intended to be called from plugin packages' init functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Build constructs a Registry populated with one plugin per name, in
// the order given, looked up against the factories registered via
// Register.
func Build(names []string) (*Registry, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	reg := NewRegistry()
	for _, name := range names {
		f, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("interceptor: unknown plugin %q", name)
		}
		reg.Add(f())
	}
	return reg, nil
}
