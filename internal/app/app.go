package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/adapters/events"
	"github.com/atvirokodosprendimai/formsum/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/formsum/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/formsum/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
	"github.com/atvirokodosprendimai/formsum/internal/core/ports"
	"github.com/atvirokodosprendimai/formsum/internal/core/usecase"
	"github.com/atvirokodosprendimai/formsum/migrations"
)

type Config struct {
	Addr             string
	DBPath           string
	SchemaPath       string
	WebhookURL       string
	WebhookSecret    string
	DispatchInterval time.Duration

	// SessionTTL evicts sessions idle for longer; zero keeps them forever.
	SessionTTL    time.Duration
	MaxSessions   int
	SweepInterval time.Duration
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadSchema returns the form schema at path, or the built-in form when path
// is empty.
func LoadSchema(path string) (*domain.FormSchema, error) {
	if path == "" {
		return domain.DefaultFormSchema()
	}
	return usecase.LoadFormSchemaFile(path)
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	schema, err := LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load form schema: %w", err)
	}
	schemas, err := usecase.NewSchemaService(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("compile form schema: %w", err)
	}

	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	version, err := migrations.Up(migrateCtx, writeSQLDB)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Printf("database ready path=%s schema_version=%d", cfg.DBPath, version)

	submissionStore := sqliteadapter.NewSubmissionStore(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, newPublisher(cfg), cfg.DispatchInterval, 100)
	dispatcher.Start(context.Background())

	sessions := usecase.NewSessionService(schemas,
		usecase.WithSubmissionStore(submissionStore),
		usecase.WithIdleTTL(cfg.SessionTTL),
		usecase.WithMaxSessions(cfg.MaxSessions),
	)
	sweeper := usecase.NewSessionSweeper(sessions, sweepInterval(cfg))
	if cfg.SessionTTL > 0 {
		sweeper.Start(context.Background())
	}
	handler := httpapi.NewHandler(sessions, schemas)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{sweeper, dispatcher, db}}, nil
}

// sweepInterval defaults to a quarter of the idle TTL, at least one second.
func sweepInterval(cfg Config) time.Duration {
	if cfg.SweepInterval > 0 {
		return cfg.SweepInterval
	}
	return max(cfg.SessionTTL/4, time.Second)
}

func newPublisher(cfg Config) ports.EventPublisher {
	if cfg.WebhookURL == "" {
		return events.NewLogPublisher()
	}
	if cfg.WebhookSecret == "" {
		log.Printf("webhook %s configured without a signing secret", cfg.WebhookURL)
	}
	return events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
}

// CheckSnapshot validates one JSON snapshot against the schema at schemaPath
// without opening a session or a database.
func CheckSnapshot(schemaPath string, raw []byte) (domain.ValidationResult, error) {
	schema, err := LoadSchema(schemaPath)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	data, err := domain.ParseFormData(raw)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	orch, err := usecase.NewOrchestrator(schema)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return orch.OnDataChange(data), nil
}
