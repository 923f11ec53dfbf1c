package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"account-transfers/internal/config"
	"account-transfers/internal/domain"
	"account-transfers/internal/handler"
	"account-transfers/internal/notification"
	"account-transfers/internal/repository"
	"account-transfers/internal/service"
	"account-transfers/internal/transfer"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

// Server represents the HTTP server
type Server struct {
	router   *mux.Router
	server   *http.Server
	db       *sql.DB
	store    *repository.MemoryAccountStore
	notifier notification.Sink
	logger   *slog.Logger
	port     string
}

// NewServer wires the account store, transfer engine, record store and
// notification sink selected by cfg.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, records, err := newRecordStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := newAccountStore(cfg, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	notifier, err := notification.New(cfg, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	engine := transfer.NewEngine(store, notifier, transfer.WithLockTimeout(cfg.LockTimeout))

	// Initialize services
	accountService := service.NewAccountService(store, logger)
	transactionService := service.NewTransactionService(engine, records, logger)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(transactionService)

	s := &Server{
		db:       db,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts", accountHandler.ListAccounts).Methods("GET")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")

	// Transaction routes
	router.HandleFunc("/transactions", transactionHandler.Transfer).Methods("POST")
	router.HandleFunc("/transactions/{transaction_id}", transactionHandler.GetTransaction).Methods("GET")
	router.HandleFunc("/v1/accounts/operation", transactionHandler.TransferByQuery).Methods("GET", "POST")

	router.HandleFunc("/health", s.health).Methods("GET")

	s.router = router

	logger.Info("Server configured",
		"lock_mode", cfg.LockMode,
		"lock_timeout", cfg.LockTimeout,
		"record_store", cfg.RecordStore,
		"notifier", cfg.Notifier)

	return s, nil
}

func newAccountStore(cfg *config.Config, logger *slog.Logger) (*repository.MemoryAccountStore, error) {
	switch cfg.LockMode {
	case config.LockModeAccount, "":
		return repository.NewMemoryAccountStore(logger), nil
	case config.LockModeGlobal:
		return repository.NewSingleLockAccountStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown lock mode %q", cfg.LockMode)
	}
}

// newRecordStore returns the transaction repository and, for Postgres, the
// migrated database handle backing it.
func newRecordStore(cfg *config.Config, logger *slog.Logger) (*sql.DB, domain.TransactionRepository, error) {
	switch cfg.RecordStore {
	case config.RecordStoreMemory, "":
		return nil, repository.NewMemoryTransactionRepository(), nil
	case config.RecordStorePostgres:
		db, err := openDatabase(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.Migrate(db, logger); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, repository.NewTransactionRepository(db, logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Successfully connected to database")
	return db, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}
	}

	// Balances are read without locks, so a transfer caught between its debit
	// and credit skews the sum for that instant.
	json.NewEncoder(w).Encode(map[string]string{
		"status":                    "healthy",
		"timestamp":                 time.Now().UTC().Format(time.RFC3339),
		"approximate_total_balance": s.store.TotalBalance().String(),
	})
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port. Port "0" lets the OS
// choose; the chosen port is returned.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests, then releases the notifier and database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var shutdownErr error
	if s.server != nil {
		shutdownErr = s.server.Shutdown(ctx)
	}

	if err := s.notifier.Close(); err != nil {
		s.logger.Warn("Failed to close notifier", "error", err)
	}

	if s.db != nil {
		s.db.Close()
	}

	return shutdownErr
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer builds and starts a server. A nil logger logs JSON to stdout,
// or discards output when the port is "0" as in tests.
func StartServer(cfg *config.Config, logger *slog.Logger) (*Server, string, error) {
	if logger == nil {
		if cfg.ServerPort == "0" {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		} else {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		}
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
