package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/sensor-monitoring/internal/api/http"
	"github.com/i474232898/sensor-monitoring/internal/camera"
	"github.com/i474232898/sensor-monitoring/internal/config"
	"github.com/i474232898/sensor-monitoring/internal/httpx"
	"github.com/i474232898/sensor-monitoring/internal/logging"
	"github.com/i474232898/sensor-monitoring/internal/mailer"
	"github.com/i474232898/sensor-monitoring/internal/monitor"
	"github.com/i474232898/sensor-monitoring/internal/scheduler"
	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
	"github.com/i474232898/sensor-monitoring/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLog := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		appLog.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer closeStore()

	// Shared HTTP client for outbound sensor and camera calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	sens := sensor.NewHTTPSensor(cfg.SensorID, cfg.SensorName, cfg.SensorBaseURL,
		httpx.New("sensor-"+cfg.SensorID, httpClient, httpx.DefaultBackoff))

	mail, err := newMailer(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal().Err(err).Str("transport", cfg.MailTransport).Msg("failed to set up mailer")
	}

	publisher := newPublisher(cfg, appLog)
	if publisher != nil {
		defer publisher.Close()
	}

	manager := monitor.NewManager(sens, st, appLog, monitor.Options{
		Location:  cfg.Location,
		Retention: cfg.Retention,
		Publisher: publisher,
	})
	evaluator := monitor.NewEvaluator(sens, st, mail, appLog, cfg.WarningCooldown, nil)

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if cfg.MigrateLegacyWarnings {
		_, err := monitor.MigrateLegacyWarnings(startCtx, st, cfg.SensorID, monitor.Thresholds{
			Temperature: cfg.DefaultTemperatureThreshold,
			Humidity:    cfg.DefaultHumidityThreshold,
		}, appLog)
		if err != nil {
			appLog.Error().Err(err).Msg("failed to migrate legacy subscribers")
		}
	}
	if err := manager.Start(startCtx); err != nil {
		appLog.Error().Err(err).Msg("sensor initialization incomplete")
	}
	cancel()

	jobs := []scheduler.Job{
		{Name: "update", Cron: cfg.UpdateCron, Run: manager.RunUpdate},
		{Name: "insert", Cron: cfg.InsertCron, Run: manager.RunInsert},
		{Name: "alert", Cron: cfg.AlertCron, Run: evaluator.CheckLimitsAndSendWarningEmails},
		{Name: "rollover", Cron: cfg.RolloverCron, Run: manager.Rollover},
	}
	if cfg.CameraURL != "" {
		uploader, err := camera.NewS3Uploader(ctx, cfg.AWSRegion)
		if err != nil {
			appLog.Fatal().Err(err).Msg("failed to set up camera upload")
		}
		snap := camera.New(cfg.CameraURL, cfg.S3Bucket, cfg.CameraFileName,
			httpx.New("camera", httpClient, httpx.DefaultBackoff), uploader, appLog)
		jobs = append(jobs, scheduler.Job{Name: "camera", Cron: cfg.CameraCron, Run: snap.Run})
	}

	sched := scheduler.New(cfg.Location, cfg.JobTimeout, appLog)
	if err := sched.Register(jobs...); err != nil {
		appLog.Fatal().Err(err).Msg("failed to schedule jobs")
	}
	sched.Start()
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "sensor-monitoring",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "sensor-monitoring",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		SensorID:   cfg.SensorID,
		Aggregates: manager,
		Store:      st,
		LogDir:     cfg.LogDir,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			appLog.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	appLog.Info().Str("port", cfg.Port).Str("sensor", cfg.SensorID).Msg("sensor monitoring started")

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLog.Error().Err(err).Msg("error during shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreDynamoDB:
		s, err := store.NewDynamoStore(ctx, cfg.AWSRegion, cfg.DynamoDBTable)
		return s, func() {}, err
	case config.StorePostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func newMailer(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (mailer.Mailer, error) {
	switch cfg.MailTransport {
	case config.MailSMTP:
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case config.MailSNS:
		return mailer.NewSNSMailer(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
	case config.MailNone:
		log.Warn().Msg("mail transport disabled; alerts are dropped")
		return mailer.Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.MailTransport)
	}
}

// newPublisher connects the configured sample buses. Brokers that cannot be
// reached are skipped.
func newPublisher(cfg *config.AppConfig, log zerolog.Logger) telemetry.Publisher {
	var pubs telemetry.Multi
	if cfg.MQTTBroker != "" {
		p, err := telemetry.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTTopic)
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("mqtt telemetry disabled")
		} else {
			pubs = append(pubs, p)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if len(pubs) == 0 {
		return nil
	}
	return pubs
}
