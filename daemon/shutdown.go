package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/softcam/pkg"
)

// DefaultShutdownTimeout bounds the hooks run by Shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Hook is a named cleanup step.
type Hook struct {
	Name string
	Func func(ctx context.Context) error
}

// Shutdown runs registered hooks concurrently under a shared timeout. It
// runs them at most once.
type Shutdown struct {
	mutex   sync.Mutex
	hooks   []Hook
	timeout time.Duration
	once    sync.Once
}

// NewShutdown creates an empty hook list whose Run is bounded by timeout.
func NewShutdown(timeout time.Duration) *Shutdown {
	return &Shutdown{timeout: timeout}
}

// AddHook appends a named hook. Hooks added after Run are never called.
func (s *Shutdown) AddHook(name string, fn func(ctx context.Context) error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hooks = append(s.hooks, Hook{Name: name, Func: fn})
}

// Run executes every hook and reports how many failed.
func (s *Shutdown) Run() (failed int) {
	s.once.Do(func() {
		s.mutex.Lock()
		hooks := append([]Hook(nil), s.hooks...)
		s.mutex.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, h := range hooks {
			wg.Add(1)
			go func(h Hook) {
				defer wg.Done()
				if err := h.Func(ctx); err != nil {
					pkg.LogError(pkg.ComponentDaemon, "shutdown hook failed",
						"hook", h.Name,
						"error", err)
					mu.Lock()
					failed++
					mu.Unlock()
					return
				}
				pkg.LogDebug(pkg.ComponentDaemon, "shutdown hook completed",
					"hook", h.Name)
			}(h)
		}
		wg.Wait()
		pkg.LogInfo(pkg.ComponentDaemon, "shutdown complete",
			"hooks", len(hooks),
			"failed", failed)
	})
	return failed
}
