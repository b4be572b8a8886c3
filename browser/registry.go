package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/config"
	"github.com/grafana/webcat/log"
)

// DriverFactory builds a driver for an application target.
type DriverFactory func(ctx context.Context, target any, cfg config.Config, logger *log.Logger) (api.Driver, error)

//nolint:gochecknoglobals
var (
	factories = make(map[string]DriverFactory)
	mu        sync.RWMutex
)

// Register makes a driver factory available under name.
// This function panics if a driver with the same name is already registered.
func Register(name string, factory DriverFactory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic(fmt.Sprintf("nil driver factory registered: %s", name))
	}
	if _, ok := factories[name]; ok {
		panic(fmt.Sprintf("driver already registered: %s", name))
	}
	factories[name] = factory
}

// Lookup returns the driver factory registered with name.
func Lookup(name string) (DriverFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	f, ok := factories[name]
	return f, ok
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
