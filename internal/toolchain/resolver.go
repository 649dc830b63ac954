package toolchain

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/zjrosen/aircc/internal/cachemanager"
	"github.com/zjrosen/aircc/internal/log"
)

// resolveTTL bounds how long a PATH lookup is trusted in watch mode.
const resolveTTL = 5 * time.Minute

// LookPathFunc resolves an executable name to a path.
type LookPathFunc func(name string) (string, error)

// Resolver resolves tool names to executables, memoising hits so repeated
// builds in one process do not rescan PATH.
type Resolver struct {
	cache *cachemanager.ReadThroughCache[string, string, string]
}

// NewResolver creates a Resolver backed by cache. A nil lookPath uses
// exec.LookPath.
func NewResolver(cache cachemanager.CacheManager[string, string], lookPath LookPathFunc) *Resolver {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	load := func(_ context.Context, name string) (string, error) {
		path, err := lookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		log.Debug(log.CatTool, "resolved tool", "name", name, "path", path)
		return path, nil
	}
	return &Resolver{
		cache: cachemanager.NewReadThroughCache(cache, load, false),
	}
}

// NewDefaultResolver creates a Resolver over an in-memory cache.
func NewDefaultResolver() *Resolver {
	cache := cachemanager.NewInMemoryCacheManager[string, string]("tool-resolve",
		cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	return NewResolver(cache, nil)
}

// Resolve returns the executable path for name.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	return r.cache.Get(ctx, name, name, resolveTTL)
}

// Preflight resolves every name and reports all missing tools at once.
// Duplicate names are checked once.
func (r *Resolver) Preflight(ctx context.Context, names ...string) error {
	seen := make(map[string]bool, len(names))
	var missing []string
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, err := r.Resolve(ctx, name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingToolsError{Names: missing}
	}
	return nil
}
