package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/db"
	"github.com/tasktrack/apiserver/internal/handlers"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/session"
	"github.com/tasktrack/apiserver/internal/storage"
	"github.com/tasktrack/apiserver/internal/store"
)

const (
	storeBackendPostgres = "postgres"
	storeBackendMemory   = "memory"
)

// handlerTimeout must stay below writeTimeout, otherwise the connection is
// cut before the timeout middleware can answer 504.
const (
	readTimeout    = 15 * time.Second
	writeTimeout   = 15 * time.Second
	idleTimeout    = 60 * time.Second
	handlerTimeout = 10 * time.Second
)

// Deps are the collaborators the HTTP stack is built from. Broker and
// Objects are optional.
type Deps struct {
	Users    services.UserRepository
	Tasks    services.TaskRepository
	Sessions session.Store
	Broker   mq.Backend
	Objects  storage.ObjectStorage
	Logger   logging.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	sessions   *session.Manager
	logger     logging.Logger

	purgeInterval time.Duration

	mu          sync.Mutex
	stopJanitor context.CancelFunc
	janitorDone chan struct{}

	closeOnce sync.Once
	closers   []func() error
}

// New opens the configured stores, broker and object storage and builds the
// server on top of them.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.New(cfg.Logging)

	var (
		deps    = Deps{Logger: logger}
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case "", storeBackendPostgres:
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, dbConn.Close)
		deps.Users, deps.Tasks, deps.Sessions = postgresRepositories(dbConn)
	case storeBackendMemory:
		logger.Warn(ctx, "using in-memory store; data is lost on restart")
		deps.Users = store.NewMemoryUserRepository()
		deps.Tasks = store.NewMemoryTaskRepository()
		deps.Sessions = store.NewMemorySessionRepository()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	broker, err := mq.New(ctx, cfg.MQ)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("connect message broker: %w", err)
	}
	if broker != nil {
		closers = append(closers, broker.Close)
		deps.Broker = broker
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	if objects != nil {
		if err := objects.EnsureBucket(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}
		deps.Objects = objects
	}

	srv := NewWithDeps(cfg, deps)
	srv.closers = closers
	return srv, nil
}

func postgresRepositories(dbConn *sql.DB) (*store.UserRepository, *store.TaskRepository, *store.SessionRepository) {
	return store.NewUserRepository(dbConn), store.NewTaskRepository(dbConn), store.NewSessionRepository(dbConn)
}

// NewWithDeps builds the router and HTTP server from ready collaborators.
func NewWithDeps(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	sessionCfg := cfg.Session
	if strings.TrimSpace(sessionCfg.Secret) == "" {
		sessionCfg.Secret = randomSecret()
		logger.Warn(context.Background(), "SESSION_SECRET is not set; sessions will not survive a restart")
	}
	sessions := session.NewManager(deps.Sessions, sessionCfg, logger)

	hasher := services.NewBcryptHasher(cfg.Auth.BcryptCost)
	authService := services.NewAuthService(deps.Users, hasher)
	userService := services.NewUserService(deps.Users, hasher, services.WithSessionRevoker(deps.Sessions))

	taskOpts := []services.TaskOption{services.WithTaskLogger(logger)}
	if cfg.Tasks.StrictTransitions {
		taskOpts = append(taskOpts, services.WithTransitionPolicy(services.StrictTransitions{}))
	}

	var audit handlers.AuditRecorder
	if deps.Broker != nil {
		publisher := mq.NewEventPublisher(deps.Broker, cfg.MQ.TaskEventsChannel, cfg.MQ.AuditChannel)
		taskOpts = append(taskOpts, services.WithTaskEvents(publisher))
		audit = publisher
	}
	taskService := services.NewTaskService(deps.Tasks, taskOpts...)

	var exportService *services.ExportService
	if deps.Objects != nil {
		exportService = services.NewExportService(taskService, deps.Objects)
	}

	requireSession := handlers.RequireSession(sessions, audit, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger),
		middleware.Timeout(handlerTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, handlers.NewAuthHandler(authService, sessions, audit, logger))
	})
	router.Route("/tasks", func(r chi.Router) {
		handlers.TaskRouter(r, handlers.NewTaskHandler(taskService, exportService, logger), requireSession)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, handlers.NewUserHandler(userService, sessions, logger), requireSession)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     logging.StdLogger(logger.With("component", "http"), slog.LevelError),
	}

	return &Server{
		httpServer:    httpServer,
		router:        router,
		sessions:      sessions,
		logger:        logger,
		purgeInterval: cfg.Session.PurgeInterval,
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the session janitor and the HTTP server. It returns nil after
// a graceful Shutdown.
func (s *Server) Start() error {
	janitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.stopJanitor = cancel
	s.janitorDone = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.sessions.RunJanitor(janitorCtx, s.purgeInterval)
	}()

	s.logger.Info(janitorCtx, "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops the janitor and closes the
// database, broker and storage connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	stop, done := s.stopJanitor, s.janitorDone
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if cerr := s.closers[i](); cerr != nil {
				s.logger.Warn(ctx, "close dependency failed", "error", cerr)
			}
		}
	})
	return err
}

func randomSecret() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("generate session secret: %v", err))
	}
	return hex.EncodeToString(buf[:])
}
