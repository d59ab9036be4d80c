package cpubackend

import (
	"sync"

	"github.com/macboot/runtime/internal/logctx"
)

var (
	registryMut sync.Mutex
	registry    = map[string]Backend{}
	defaultName string
)

var log = logctx.Module("cpubackend")

// Register adds a backend to the registry under name. The first backend
// ever registered becomes the default.
func Register(name string, b Backend) {
	registryMut.Lock()
	defer registryMut.Unlock()

	if _, exists := registry[name]; exists {
		log.Warn("backend re-registered", "name", name)
	}

	registry[name] = b

	if defaultName == "" {
		defaultName = name
	}
}

// Get returns the backend registered under name.
func Get(name string) (Backend, bool) {
	registryMut.Lock()
	defer registryMut.Unlock()

	b, ok := registry[name]

	return b, ok
}

// Default returns the first backend that was ever registered.
func Default() (Backend, bool) {
	registryMut.Lock()
	defer registryMut.Unlock()

	if defaultName == "" {
		return nil, false
	}

	return registry[defaultName], true
}
