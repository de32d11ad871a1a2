package api

import (
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	logx "mintwatch/pkg/logx"
)

// recoverJSON turns a handler panic into a JSON 500 carrying the request id.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			reqID := chimw.GetReqID(r.Context())
			s.log.Error("panic recovered",
				logx.String("request_id", reqID),
				logx.String("path", r.URL.Path),
				logx.Any("panic", v),
				logx.Stack(string(debug.Stack())),
			)
			if reqID != "" {
				w.Header().Set("X-Request-ID", reqID)
			}
			writeDetail(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request; requests slower than slow log at warn.
// The wrapped writer keeps http.Hijacker so WebSocket upgrades still work.
func (s *Server) accessLog(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("elapsed", elapsed),
				logx.String("request_id", chimw.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				s.log.Error("request done", fields...)
			case slow > 0 && elapsed >= slow && status != http.StatusSwitchingProtocols:
				s.log.Warn("request done", fields...)
			default:
				s.log.Debug("request done", fields...)
			}
		})
	}
}
