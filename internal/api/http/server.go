package http

import (
	"context"
	"divvi/internal/api/http/handlers"
	"divvi/internal/api/http/mw"
	"divvi/internal/config"
	"divvi/internal/security"
	rds "divvi/internal/stores/redis"
	"net/http"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type ServerDeps struct {
	Logger   logger.Logger
	Cfg      *config.Config
	Rdb      *rds.Client // rate-limit buckets
	Handler  *handlers.Handler
	Verifier *security.RS256Verifier // nil when jwt.enabled=false
}

type Server struct {
	log logger.Logger
	srv *http.Server
}

func NewServer(d *ServerDeps) *Server {
	cfg := d.Cfg.API.HTTP

	logMW := mw.NewLogging(newMWLogger(d.Logger))
	gzipMW := mw.NewGzip(0, d.Logger)

	var corsMW *mw.CORSMiddleware
	if cfg.CORS.Enabled {
		corsMW = mw.NewCORSConfig(&cfg.CORS)
	}

	var rateLimitMW *mw.RateLimitMiddleware
	if d.Rdb != nil {
		rateLimitMW = mw.NewRateLimit(&d.Cfg.RateLimit, d.Rdb, d.Verifier)
	}

	var jwtMW *mw.JWTMiddleware
	if d.Verifier != nil {
		// error is impossible here: the verifier is non-nil
		jwtMW, _ = mw.NewJWTMiddleware(d.Verifier)
	}

	router := BuildRouter(d.Handler, logMW, gzipMW, rateLimitMW, jwtMW, corsMW)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		// revenue computations walk months of chain history; give them room
		writeTimeout = 120 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		log: d.Logger,
		srv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
	}
}

func (s *Server) Start() error {
	s.log.Infof("HTTP server listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Adapts the structured alerting logger to the keyvalue surface the
// logging middleware expects
type mwLogger struct {
	log logger.Logger
}

func newMWLogger(log logger.Logger) *mwLogger { return &mwLogger{log: log} }

func (l *mwLogger) Info(msg string, kv ...any)  { l.log.Infof("%s %v", msg, kv) }
func (l *mwLogger) Warn(msg string, kv ...any)  { l.log.Warnf("%s %v", msg, kv) }
func (l *mwLogger) Error(msg string, kv ...any) { l.log.Errorf("%s %v", msg, kv) }
