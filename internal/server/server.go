// Package server is the IAM-compatible HTTP front end. It validates each
// request, authenticates its signature and dispatches it to the directory.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/isometry/s3-authserver/internal/directory"
	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
	"github.com/isometry/s3-authserver/internal/signature"
	"github.com/isometry/s3-authserver/internal/validator"
)

// Subsystem is the log subsystem of this package.
const Subsystem = "server"

// Directory is the entity store behind the API.
type Directory interface {
	CreateAccount(ctx context.Context, name string) (*model.AccountCreation, error)
	GetAccount(ctx context.Context, name string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, name string) error

	CreateUser(ctx context.Context, account model.Account, name, path string) (*model.User, error)
	GetUser(ctx context.Context, accountName, name string) (*model.User, error)
	DeleteUser(ctx context.Context, accountName, name string) error
	UpdateUser(ctx context.Context, accountName, name, newName, newPath string) (*model.User, error)
	ListUsers(ctx context.Context, accountName string, opts directory.ListOptions) (*directory.Page[model.User], error)

	CreateAccessKey(ctx context.Context, u model.User) (*model.AccessKey, error)
	DeleteAccessKey(ctx context.Context, u model.User, id string) error
	UpdateAccessKey(ctx context.Context, u model.User, id string, status model.AccessKeyStatus) error
	ListAccessKeys(ctx context.Context, u model.User, opts directory.ListOptions) (*directory.Page[model.AccessKey], error)

	CreateSAMLProvider(ctx context.Context, accountName, name, metadata string) (*model.SAMLProvider, error)
	DeleteSAMLProvider(ctx context.Context, accountName, arn string) error
	UpdateSAMLProvider(ctx context.Context, accountName, arn, metadata string) (*model.SAMLProvider, error)
	ListSAMLProviders(ctx context.Context, accountName string) ([]model.SAMLProvider, error)

	Ping(ctx context.Context) error
}

// Authenticator verifies a signed request and identifies its caller.
type Authenticator interface {
	Verify(ctx context.Context, req *signature.Request) (*model.Credential, error)
}

// Config holds the server settings taken from the service configuration.
type Config struct {
	// AdminAccessKeyID identifies the credential allowed to manage accounts.
	AdminAccessKeyID string

	// SAMLMetadataFile is served at /saml/metadata when set.
	SAMLMetadataFile string

	// MaxConcurrent bounds the number of requests handled at once. Zero
	// means unbounded.
	MaxConcurrent int
}

// Server routes IAM actions to the directory.
type Server struct {
	dir       Directory
	auth      Authenticator
	validator *validator.Validator
	config    Config
	faults    *s3ldap.FaultInjector
	metrics   *Metrics
	gatherer  prometheus.Gatherer
	endpoints []string
	slots     *semaphore.Weighted
	actions   map[string]action
}

// Option customizes a Server.
type Option func(*Server)

// WithFaultInjector enables the InjectFault and ResetFault actions.
func WithFaultInjector(f *s3ldap.FaultInjector) Option {
	return func(s *Server) { s.faults = f }
}

// WithMetrics records request metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithEndpoints restricts AuthenticateUser to requests addressed to one of
// endpoints, either directly or in virtual-hosted style.
func WithEndpoints(endpoints ...string) Option {
	return func(s *Server) { s.endpoints = endpoints }
}

// New returns a Server over dir, authenticating requests with auth.
func New(dir Directory, auth Authenticator, config Config, opts ...Option) *Server {
	s := &Server{
		dir:       dir,
		auth:      auth,
		validator: validator.New(),
		config:    config,
		actions:   actionTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if config.MaxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(int64(config.MaxConcurrent))
	}
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.requestID, s.instrument, s.limit)

	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	if s.gatherer != nil {
		router.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.config.SAMLMetadataFile != "" {
		router.Methods(http.MethodGet).Path("/saml/metadata").HandlerFunc(s.samlMetadata)
	}
	router.Methods(http.MethodPost).Path("/").HandlerFunc(s.doActions)

	return router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.Ping(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) samlMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	http.ServeFile(w, r, s.config.SAMLMetadataFile)
}
