package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/avatardb/internal/server/ipgeo"
	"github.com/maruel/avatardb/internal/server/reqctx"
	"github.com/maruel/avatardb/internal/tiered"
)

// requestMetadata adds the client IP, user agent and country to the request
// context, and a per-request dataset memo.
func requestMetadata(geo *ipgeo.Checker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := reqctx.GetClientIP(r)
		ctx := reqctx.WithClientIP(r.Context(), ip)
		ctx = reqctx.WithUserAgent(ctx, r.UserAgent())
		if cc := geo.CountryCode(ip); cc != "" {
			ctx = reqctx.WithCountryCode(ctx, cc)
		}
		ctx = tiered.WithMemo(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// logRequests logs one line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		ctx := r.Context()
		lvl := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			lvl = slog.LevelWarn
		}
		slog.Log(ctx, lvl, "http",
			"m", r.Method,
			"p", r.URL.Path,
			"s", sw.status,
			"d", time.Since(start).Round(time.Millisecond),
			"ip", reqctx.ClientIP(ctx),
			"cc", reqctx.CountryCode(ctx),
		)
	})
}
