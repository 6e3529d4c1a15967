package modelci

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/controllers"
	"github.com/modelci/modelci/internal/engine"
	"github.com/modelci/modelci/internal/migrations"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/internal/repository"
	"github.com/modelci/modelci/internal/scheduler"
	"github.com/modelci/modelci/internal/web"
	"github.com/modelci/modelci/pkg/modelci/core"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// FlowRegistry maps flow type names to factories. The engine instantiates
// a fresh flow per execution.
var FlowRegistry map[string]func() core.Flow

// Deps carries the runtime objects flow factories typically close over.
// Runs satisfies flows.RunLookup, Actions satisfies flows.ActionRecorder
// and Manager satisfies flows.Canceller.
type Deps struct {
	Runs    engine.RunRepo
	Actions engine.RunActionRepo
	Manager *engine.FlowManager
	Clock   core.Clock
}

// Start boots the flow engine, the cron scheduler and the HTTP server.
// buildRegistry is called once the repositories and manager exist and must
// return the factories for every flow type this instance can execute.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux, loader *pipeline.Loader,
	buildRegistry func(deps Deps) map[string]func() core.Flow) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("MCI_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := &core.RealClock{}
	runRepo := repository.NewRunRepository(db, clock)
	runActionRepo := repository.NewRunActionRepository(db, clock)
	runnerRepo := repository.NewRunnerRepository(db, clock)
	definitionRepo := repository.NewFlowDefinitionRepository(db)
	userRepo := repository.NewUserRepository(db, clock)

	manager := engine.NewFlowManager(runRepo, runActionRepo, runnerRepo, definitionRepo, &FlowRegistry, clock)
	FlowRegistry = buildRegistry(Deps{
		Runs:    runRepo,
		Actions: runActionRepo,
		Manager: manager,
		Clock:   clock,
	})

	ctx := context.Background()
	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	go manager.StartEngine(ctx, dur)

	if loader == nil {
		loader = pipeline.NewLoader()
	}
	pipelineDir := config.GetSystemSettingString(config.PIPELINE_DIR)
	if config.GetSystemSettingString(config.SCHEDULER_ENABLED) == "true" {
		sched := scheduler.New(loader, pipelineDir, manager, runRepo, clock)
		go sched.Start(ctx)
	} else {
		slog.Info("Scheduler disabled on this instance")
	}

	if mux == nil {
		mux = http.NewServeMux()
	}
	runsController := controllers.NewRunsController(runRepo, runActionRepo, manager, userRepo)
	runsController.RegisterRoutes(mux)
	eventsController := controllers.NewEventsController(loader, pipelineDir, manager, userRepo)
	eventsController.RegisterRoutes(mux)
	runnersController := controllers.NewRunnersController(runnerRepo, userRepo)
	runnersController.RegisterRoutes(mux)
	usersController := controllers.NewUsersController(userRepo)
	usersController.RegisterRoutes(mux)
	webController := web.NewWebController(manager, userRepo)
	webController.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("MCI_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("MCI_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("MCI_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("MCI_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("MCI_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
