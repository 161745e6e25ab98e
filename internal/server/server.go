// Package server exposes the scheduled service over HTTP: health, Prometheus
// metrics, job status and manual triggers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datasetsync/hfsync/internal/logging"
	"github.com/datasetsync/hfsync/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Syncs is the view of the service the server needs.
type Syncs interface {
	Status() []service.Status
	Trigger(name string) error
}

type Server struct {
	router  *http.ServeMux
	syncs   Syncs
	readyFn func(context.Context) error
	prefix  string
	log     *logging.Logger
}

func New() *Server {
	return &Server{
		readyFn: func(context.Context) error { return nil },
		log:     logging.NewNop(),
	}
}

func (s *Server) WithRouter(router *http.ServeMux) *Server {
	s.router = router
	return s
}

func (s *Server) WithSyncs(syncs Syncs) *Server {
	s.syncs = syncs
	return s
}

func (s *Server) WithReadyFn(fn func(context.Context) error) *Server {
	s.readyFn = fn
	return s
}

// WithAPIPrefix mounts every route under prefix, e.g. "/hfsync".
func (s *Server) WithAPIPrefix(prefix string) *Server {
	s.prefix = strings.TrimSuffix(prefix, "/")
	return s
}

func (s *Server) WithLogger(logger *logging.Logger) *Server {
	s.log = logger
	return s
}

// Init registers the routes on the router, creating one if none was set.
func (s *Server) Init() *Server {
	if s.router == nil {
		s.router = http.NewServeMux()
	}

	s.router.HandleFunc("GET "+s.prefix+"/health", s.health)
	s.router.Handle("GET "+s.prefix+"/metrics", promhttp.Handler())
	s.router.HandleFunc("GET "+s.prefix+"/v1/syncs", s.v1SyncsList)
	s.router.HandleFunc("GET "+s.prefix+"/v1/syncs/{name}", s.v1SyncsGet)
	s.router.HandleFunc("POST "+s.prefix+"/v1/syncs/{name}/trigger", s.v1SyncsTrigger)

	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type SyncsListResponseV1 struct {
	Result []service.Status `json:"result"`
}

type SyncsGetResponseV1 struct {
	Result service.Status `json:"result"`
}

type SyncsTriggerResponseV1 struct{}

type ErrorV1 struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrNotFound = "not_found"
	ErrInternal = "internal_error"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.readyFn(r.Context()); err != nil {
		errorf(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	JSONOK(w, struct{}{})
}

func (s *Server) v1SyncsList(w http.ResponseWriter, _ *http.Request) {
	JSONOK(w, SyncsListResponseV1{Result: s.syncs.Status()})
}

func (s *Server) v1SyncsGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, st := range s.syncs.Status() {
		if st.Name == name {
			JSONOK(w, SyncsGetResponseV1{Result: st})
			return
		}
	}
	errorf(w, http.StatusNotFound, ErrNotFound, "sync not found: "+name)
}

func (s *Server) v1SyncsTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.syncs.Trigger(name); errors.Is(err, service.ErrNotFound) {
		errorf(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	} else if err != nil {
		errorf(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	s.log.Infof("sync %q triggered", name)
	JSON(w, http.StatusAccepted, SyncsTriggerResponseV1{})
}

func errorf(w http.ResponseWriter, code int, errCode string, msg string) {
	JSON(w, code, ErrorV1{Code: errCode, Message: msg})
}

func JSONOK(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, v)
}

func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
