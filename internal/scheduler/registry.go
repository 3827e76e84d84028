package scheduler

import (
	"sync"

	"github.com/relayhook/dispatcher/internal/domain"
)

// HandlerConfig is what a registered (app_name, task_type) pair resolves to:
// the worker endpoint to call and the retry policy for it.
type HandlerConfig struct {
	CallbackURL      string
	MaxRetries       int
	RetryBackoffBase int
}

type registryKey struct {
	AppName  string
	TaskType string
}

// HandlerRegistry is an explicit registry object rather than a module-global
// map: the ingress layer is handed its dispatch table instead of reaching
// for shared state.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[registryKey]HandlerConfig
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[registryKey]HandlerConfig)}
}

func (r *HandlerRegistry) Register(appName, taskType string, cfg HandlerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[registryKey{AppName: appName, TaskType: taskType}] = cfg
}

// Lookup returns domain.ErrHandlerNotFound for an unregistered pair; the
// ingress layer turns that into a 404.
func (r *HandlerRegistry) Lookup(appName, taskType string) (HandlerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.handlers[registryKey{AppName: appName, TaskType: taskType}]
	if !ok {
		return HandlerConfig{}, domain.ErrHandlerNotFound
	}
	return cfg, nil
}
