// Command clover runs the customer identity batch jobs.
//
// Usage:
//
//	clover <script> [--execute] [--force]
//
// Without --execute the script runs in a transaction that is rolled back at
// the end, printing what it would have done. --force reruns a script the
// ledger already marks as succeeded.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/branch"
	"github.com/Ramsey-B/clover/internal/repositories/customer"
	"github.com/Ramsey-B/clover/internal/repositories/executionlog"
	"github.com/Ramsey-B/clover/internal/repositories/integritycheck"
	"github.com/Ramsey-B/clover/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/clover/internal/repositories/rawrecord"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/runner"
	"github.com/Ramsey-B/clover/pkg/scripts"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	logger := newLogger()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return runner.ExitError
	}

	script, opts, err := parseArgs(args)
	if err != nil {
		logger.WithError(err).Error("Invalid arguments")
		fmt.Fprintln(os.Stderr, "usage: clover <script> [--execute] [--force]")
		return runner.ExitError
	}

	if cfg.DatabaseHost == "" || cfg.DatabaseUserName == "" {
		logger.Error("DB_HOST and DB_USER_NAME must be set")
		return runner.ExitError
	}

	if cfg.TracingEnabled {
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(&exporters.ConsoleExporter{}))
		defer provider.Shutdown(context.Background()) //nolint:errcheck
		otel.SetTracerProvider(provider)
		tracing.SetTracer(otel.Tracer(cfg.AppName))
	}

	ctx := context.Background()

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return runner.ExitError
	}
	defer sqlxDB.Close()

	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	db := database.NewDatabaseInstance(sqlxDB, logger)

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		logger.WithError(err).Error("Failed to create migration driver")
		return runner.ExitError
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		logger.WithError(err).Error("Failed to apply migrations")
		return runner.ExitError
	}

	weights, err := matching.LoadWeights(cfg.MatchWeightsPath)
	if err != nil {
		logger.WithError(err).Warnf("Falling back to built-in match weights")
		weights = matching.DefaultWeights()
	}

	// The emitter buffers events during the run and the runner flushes them
	// after commit. Dry runs skip the producer entirely.
	var emitter *events.Emitter
	if cfg.KafkaEnabled && opts.Execute {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
		emitter = events.NewEmitter(producer, logger)
	}

	deps := scripts.Deps{
		Customers:  customer.NewRepository(db, logger),
		Records:    rawrecord.NewRepository(db, logger),
		Candidates: matchcandidate.NewRepository(db, logger),
		Branches:   branch.NewRepository(db, logger),
		Integrity:  integritycheck.NewRepository(db, logger),
		Comparator: matching.NewComparator(weights),
		Classifier: matching.NewClassifier(cfg.AutoMergeThreshold, cfg.ReviewThreshold),
		Emitter:    emitter,
		Logger:     logger,
	}

	jobs := runner.NewRunner(db, executionlog.NewRepository(db, logger), logger)
	scripts.RegisterAll(jobs, deps)
	if emitter != nil {
		jobs.OnCommit(emitter.Flush)
	}

	return jobs.Run(ctx, script, opts)
}

func newLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		fmt.Println(string(data))
	})
}

func parseArgs(args []string) (string, runner.Options, error) {
	var script string
	var opts runner.Options

	for _, arg := range args {
		switch {
		case arg == "--execute":
			opts.Execute = true
		case arg == "--force":
			opts.Force = true
		case strings.HasPrefix(arg, "-"):
			return "", opts, fmt.Errorf("unknown flag %q", arg)
		case script == "":
			script = arg
		default:
			return "", opts, fmt.Errorf("unexpected argument %q", arg)
		}
	}

	if script == "" {
		return "", opts, fmt.Errorf("no script named")
	}
	return script, opts, nil
}
