package agentcli

import (
	"fmt"
	"sort"

	"github.com/clibridge/clibridge/internal/port/outbound"
)

var backends = map[string]outbound.Backend{
	Claude{}.Name(): Claude{},
	Gemini{}.Name(): Gemini{},
	Codex{}.Name():  Codex{},
}

// DefaultBackend is used when no backend is configured.
const DefaultBackend = "claude"

// Backend returns the backend registered under name.
func Backend(name string) (outbound.Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent backend %q (known: %v)", name, BackendNames())
	}
	return b, nil
}

// BackendNames lists registered backend names in sorted order.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
