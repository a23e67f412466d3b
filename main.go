package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alarmapp "devicehub/internal/alarmrules/application"
	alarmrepo "devicehub/internal/alarmrules/infrastructure/postgres"
	alarmhttp "devicehub/internal/alarmrules/interfaces/http"
	alarmkafka "devicehub/internal/alarmrules/interfaces/kafka"
	alarmnotify "devicehub/internal/alarmrules/notify"
	"devicehub/internal/auth"
	"devicehub/internal/ingest"
	"devicehub/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	engineCfg, err := alarmapp.LoadConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	deviceChecker := auth.NewDeviceChecker(db)

	alarmRepo := alarmrepo.NewAlarmRepository(db)
	attributeRepo := alarmrepo.NewAttributeRepository(db)
	timeseriesRepo := alarmrepo.NewTimeSeriesRepository(db)
	deviceRepo := alarmrepo.NewDeviceRepository(db)
	stateRepo := alarmrepo.NewStateRepository(db)

	broker := alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.Notifier{broker, alarmnotify.MetricsNotifier{}}
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatalf("alarm webhook error: %v", err)
		}
		webhookNotifier, err := alarmnotify.NewWebhookNotifier(channel, logger)
		if err != nil {
			logger.Fatalf("alarm webhook notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}
	if len(engineCfg.KafkaBrokers) > 0 {
		publisher, err := alarmkafka.NewPublisher(engineCfg.KafkaBrokers, engineCfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatalf("kafka publisher error: %v", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}
	notifier := alarmnotify.NewMultiNotifier(notifiers...)

	collab := alarmapp.Collaborators{
		Alarms:     alarmRepo,
		Attributes: attributeRepo,
		TimeSeries: timeseriesRepo,
		Directory:  deviceRepo,
		States:     stateRepo,
	}
	engine, err := alarmapp.NewEngine(engineCfg.NodeID, collab, logger, alarmapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("alarm engine error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(engineCfg.HarvestInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := engine.Harvest(context.Background()); err != nil {
				logger.Printf("harvest error: %v", err)
			}
		}
	}()

	ingestHandler, err := ingest.NewHandler(attributeRepo, timeseriesRepo, engine, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmRepo, engine, notifier, deviceChecker)
	if err != nil {
		logger.Fatalf("alarms handler error: %v", err)
	}
	profileHandler, err := alarmhttp.NewProfileHandler(deviceRepo, engine)
	if err != nil {
		logger.Fatalf("profile handler error: %v", err)
	}
	exportHandler := alarmhttp.NewExportHandler(alarmRepo, deviceChecker)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/gateway/events", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/profiles", profileHandler)
	mux.Handle("/api/v1/profiles/", profileHandler)
	mux.Handle("/api/v1/exports/alarms.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/alarms.pdf", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	AlarmWebhookURL   string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		AlarmWebhookURL:   getenvDefault("ALARM_WEBHOOK_URL", ""),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
