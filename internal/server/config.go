package server

import (
	"net/http"
	"strconv"
	"time"

	"bookshelf/internal/identity"

	"go.uber.org/zap"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server
	// handlers are the POST JSON endpoints, routes are served as they are
	handlers      map[string]http.Handler
	routes        map[string]http.Handler
	afterShutdown []func()
	// origins allowed to open websocket connections besides the serving host
	origins []string
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host           string   `env:"HOST" envDefault:"0.0.0.0"`
	Port           uint16   `env:"PORT" envDefault:"9000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Addr joins host and port
func (c EnvConfig) Addr() string {
	return c.Host + ":" + strconv.FormatUint(uint64(c.Port), 10)
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Addr()
		c.origins = append(c.origins, cfg.AllowedOrigins...)
	})
}

// AllowedOrigins lets pages served from origins (e.g. "https://app.example.com") open
// websocket connections
func AllowedOrigins(origins ...string) Option {
	return optionFunc(func(c *config) {
		c.origins = append(c.origins, origins...)
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler wraps each POST handler in http.TimeoutHandler with provided duration and message.
// Websocket routes are left alone, http.TimeoutHandler does not support hijacking.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}

// applyEnforcePostJson wraps each handler in handlers map with enforcePostJson middleware
func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = enforcePostJson(h)
		}
	})
}

// mergeRoutes moves the POST handlers into routes, every later option sees a single map
func mergeRoutes() Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.routes[pattern] = h
		}
		c.handlers = map[string]http.Handler{}
	})
}

// applyAuthenticate wraps each route with authenticate middleware
func applyAuthenticate(verifier *identity.Verifier) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.routes {
			c.routes[pattern] = authenticate(h, verifier)
		}
	})
}

// applyLog wraps each route with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.routes {
			c.routes[pattern] = log(h, logger)
		}
	})
}

// registerHandlers registers each route for newly initialized http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.routes {
			mux.Handle(pattern, h)
		}
		c.httpServer.Handler = mux
	})
}
