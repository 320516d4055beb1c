package router

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/account"
	"github.com/ghostzpy/truco-server/internal/chat"
	"github.com/ghostzpy/truco-server/internal/leaderboard"
	"github.com/ghostzpy/truco-server/internal/metrics"
	"github.com/ghostzpy/truco-server/internal/notification"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Hijack lets the chat endpoint take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only makes sense over TLS.
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and gates mounted by New.
type Deps struct {
	Logger        *zap.SugaredLogger
	Accounts      *account.Handler
	Notifications *notification.Handler
	Leaderboard   *leaderboard.Handler
	Chat          *chat.Handler
	// Auth rejects requests without a valid bearer session.
	Auth        func(http.Handler) http.Handler
	CORSOrigins []string
	// Ready reports whether backing services are reachable. Nil means always ready.
	Ready func(r *http.Request) error
}

// New builds the HTTP handler tree.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(SecurityHeadersMiddleware())

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"msg": "Welcome to the Truco Arena API!"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r); err != nil {
				d.Logger.Warnw("health check failed", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	a := d.Accounts
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.Register)
		r.Post("/verify-email", a.VerifyEmail)
		r.Post("/resend-verification", a.ResendVerification)
		r.Post("/login", a.Login)
		r.Post("/request-reset", a.RequestReset)
		r.Post("/verify-token", a.VerifyToken)
		r.Post("/reset-password", a.ResetPassword)
		r.With(d.Auth).Post("/change-password", a.ChangePassword)
		r.Get("/check-email/{email}", a.CheckEmail)
		r.Get("/check-username/{username}", a.CheckUsername)
	})

	r.Route("/user", func(r chi.Router) {
		r.Get("/data/{email}", a.Data)
		r.Get("/detail/{email}", a.Detail)
		r.Get("/username/{email}", a.Username)
		r.Get("/balance/{email}", a.Balance)
		r.Get("/points/{email}", a.Points)
		r.Group(func(r chi.Router) {
			r.Use(d.Auth)
			r.Get("/email/{email}", a.GetByEmail)
			r.Get("/{id}", a.GetByID)
		})
	})

	r.With(d.Auth).Get("/notifications", d.Notifications.List)

	r.Route("/admin", func(r chi.Router) {
		r.Use(d.Auth, a.RequireAdmin)
		r.Patch("/{id}/balance", a.UpdateBalance)
		r.Post("/notifications", d.Notifications.Create)
		r.Delete("/notifications/{id}", d.Notifications.Delete)
	})

	r.Get("/leaderboard", d.Leaderboard.Top)
	r.Get("/chat/ws", d.Chat.ServeWS)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
