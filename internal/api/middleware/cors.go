package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines which UI origins may call the shell.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	AllowLocalhost   bool
	MaxAge           time.Duration
}

// DefaultCORSConfig admits the desktop webview and any UI served from
// loopback. The shell listens on 127.0.0.1 and is not meant to be reached
// from arbitrary sites.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{
			"tauri://localhost",
			"app://agentshell",
		},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Trace-ID",
			"X-Requested-With",
		},
		ExposeHeaders:    []string{"X-Trace-ID"},
		AllowCredentials: false,
		AllowLocalhost:   true,
		MaxAge:           12 * time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		allowed[o] = true
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return allowed[origin] || (cfg.AllowLocalhost && IsLoopbackOrigin(origin))
		},
		AllowMethods:      cfg.AllowMethods,
		AllowHeaders:      cfg.AllowHeaders,
		ExposeHeaders:     cfg.ExposeHeaders,
		AllowCredentials:  cfg.AllowCredentials,
		AllowCustomSchema: true,
		MaxAge:            cfg.MaxAge,
	})
}

// IsLoopbackOrigin reports whether origin is an http(s) origin on localhost
// or a loopback address, on any port.
func IsLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
