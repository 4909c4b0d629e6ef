// Package server exposes the challenge/response protocol of a ceremony over
// HTTP, for contributors computing their update on their own machine.
//
//	GET  /status             ceremony state as JSON
//	POST /challenge          issue a challenge, body is the envelope
//	POST /response           import a response envelope
//	GET  /artifacts/{name}   download an artifact, receipt or key export
//	GET  /metrics            prometheus metrics
//
// Issuing a challenge records it as pending and supersedes the previous one,
// and importing a response runs a full verification. When the server has an
// operator token both POST routes require it as "Authorization: Bearer
// <token>"; without a token they are open to anyone reaching the listener.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/handlers"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/metrics"
	"github.com/giuliop/ceremony/store"
)

const (
	// HeaderChallengeName is the store name of an issued challenge.
	HeaderChallengeName = "X-Challenge-Name"
	// HeaderChallengeHash is the hash of an issued challenge.
	HeaderChallengeHash = "X-Challenge-Hash"
	// HeaderPrior is the hash of the artifact a challenge was derived from.
	// A response must send it back.
	HeaderPrior = "X-Prior-Hash"

	// DefaultMaxBody bounds uploaded responses. A size 28 accumulator
	// response is a few GB.
	DefaultMaxBody = 8 << 30

	shutdownTimeout = 10 * time.Second
)

// Server serves one ceremony.
type Server struct {
	c       *ceremony.Coordinator
	store   store.Store
	log     log.Logger
	maxBody int64
	token   string
}

// New returns a server for the ceremony run by c over st.
func New(c *ceremony.Coordinator, st store.Store, l log.Logger) *Server {
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Server{c: c, store: st, log: l.Named("http"), maxBody: DefaultMaxBody}
}

// SetMaxBody changes the largest accepted response.
func (s *Server) SetMaxBody(n int64) {
	s.maxBody = n
}

// SetToken requires token on the routes that change the ceremony. An empty
// token leaves them open.
func (s *Server) SetToken(token string) {
	s.token = token
}

// Handler is the routing of the server, instrumented with metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.status)
	r.With(s.authorize).Post("/challenge", s.challenge)
	r.With(s.authorize).Post("/response", s.response)
	r.Get("/artifacts/{name}", s.artifact)
	r.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(handlers.CompressHandler(r))
}

// Serve listens on addr until ctx is done. Access logs go to accessLog
// when not nil.
func (s *Server) Serve(ctx context.Context, addr string, accessLog io.Writer) error {
	h := s.Handler()
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()
	s.log.Infow("serving ceremony", "ceremony", s.c.ID(), "addr", listener.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				s.log.Debugw("request refused", "path", r.URL.Path, "code", http.StatusUnauthorized)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid operator token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	state := s.c.State()
	state.Stage = s.c.Stage()
	s.writeJSON(w, r, http.StatusOK, state)
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.c.IssueChallenge(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderChallengeName, ch.Name)
	w.Header().Set(HeaderChallengeHash, ch.Hash.String())
	w.Header().Set(HeaderPrior, ch.Prior.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(ch.Data); err != nil {
		s.log.Warnw("error writing challenge", "err", err)
	}
}

func (s *Server) response(w http.ResponseWriter, r *http.Request) {
	var prior artifact.Hash
	if v := r.Header.Get(HeaderPrior); v != "" {
		h, err := artifact.ParseHash(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s header: %v", HeaderPrior, err), http.StatusBadRequest)
			return
		}
		prior = h
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading response: %v", err), http.StatusRequestEntityTooLarge)
		return
	}
	contribution, err := s.c.ImportResponse(r.Context(), body, prior)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, contribution)
}

func (s *Server) artifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := s.store.Get(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := w.Write(data); err != nil {
		s.log.Warnw("error writing artifact", "name", name, "err", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		s.log.Warnw("error writing reply", "path", r.URL.Path, "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.log.Debugw("request refused", "path", r.URL.Path, "code", code, "err", err)
	}
	http.Error(w, err.Error(), code)
}

// StatusCode maps a coordinator error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidName), errors.Is(err, artifact.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ceremony.ErrStaleBase), errors.Is(err, ceremony.ErrChallengeMismatch),
		errors.Is(err, ceremony.ErrStage), errors.Is(err, ceremony.ErrFinalized):
		return http.StatusConflict
	case errors.Is(err, ceremony.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
