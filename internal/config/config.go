package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"

	MailSMTP = "smtp"
	MailSNS  = "sns"
	MailNone = "none"
)

type AppConfig struct {
	SensorID      string        `validate:"required"`
	SensorName    string        `validate:"required"`
	SensorBaseURL string        `validate:"required,url"`
	HTTPTimeout   time.Duration `validate:"gt=0"`

	// Location drives the calendar day, rollover time and cron schedules.
	Location *time.Location `validate:"required"`

	// Retention is how long day documents are kept before purge.
	Retention       time.Duration `validate:"gt=0"`
	WarningCooldown time.Duration `validate:"gte=0"`
	JobTimeout      time.Duration `validate:"gt=0"`

	UpdateCron   string `validate:"required"`
	InsertCron   string `validate:"required"`
	AlertCron    string `validate:"required"`
	RolloverCron string `validate:"required"`
	CameraCron   string `validate:"required"`

	StoreBackend  string `validate:"oneof=memory dynamodb postgres"`
	DynamoDBTable string `validate:"required_if=StoreBackend dynamodb"`
	DBDSN         string `validate:"required_if=StoreBackend postgres"`
	AWSRegion     string

	MailTransport string `validate:"oneof=smtp sns none"`
	MailFrom      string `validate:"required,email"`
	SMTPHost      string `validate:"required_if=MailTransport smtp"`
	SMTPPort      int    `validate:"gt=0,lte=65535"`
	SMTPUsername  string
	SMTPPassword  string
	SNSTopicARN   string `validate:"required_if=MailTransport sns"`

	MQTTBroker   string
	MQTTTopic    string
	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`

	CameraURL      string `validate:"omitempty,url"`
	CameraFileName string
	S3Bucket       string `validate:"required_with=CameraURL"`

	LogDir   string
	LogLevel string

	Port string `validate:"required,numeric"`

	MigrateLegacyWarnings       bool
	DefaultTemperatureThreshold float64
	DefaultHumidityThreshold    float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SENSOR_ID", "sensor-1")
	v.SetDefault("SENSOR_NAME", "Sensor 1")
	v.SetDefault("SENSOR_BASE_URL", "http://localhost:8081")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("TIMEZONE", "Local")

	v.SetDefault("RETENTION", "720h")
	v.SetDefault("WARNING_COOLDOWN", "1h")
	v.SetDefault("JOB_TIMEOUT", "45s")

	v.SetDefault("UPDATE_CRON", "30 * * * * *")
	v.SetDefault("INSERT_CRON", "32 3-59/4 * * * *")
	v.SetDefault("ALERT_CRON", "34 * * * * *")
	v.SetDefault("ROLLOVER_CRON", "0 0 0 * * *")
	v.SetDefault("CAMERA_CRON", "0 * * * * *")

	v.SetDefault("STORE_BACKEND", StoreMemory)
	v.SetDefault("DYNAMODB_TABLE", "sensor-documents")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("AWS_REGION", "us-east-1")

	v.SetDefault("MAIL_TRANSPORT", MailNone)
	v.SetDefault("MAIL_FROM", "unic-monitoring@no-reply.com")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("AWS_SNS_TOPIC_ARN", "")

	v.SetDefault("MQTT_BROKER", "")
	v.SetDefault("MQTT_TOPIC", "sensors/readings")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "sensor-readings")

	v.SetDefault("CAMERA_URL", "")
	v.SetDefault("CAMERA_FILE_NAME", "camera.jpg")
	v.SetDefault("AWS_S3_BUCKET", "")

	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")

	v.SetDefault("MIGRATE_LEGACY_WARNINGS", false)
	v.SetDefault("DEFAULT_TEMPERATURE_THRESHOLD", 30.0)
	v.SetDefault("DEFAULT_HUMIDITY_THRESHOLD", 70.0)
}

// Load reads configuration from .env and the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg := &AppConfig{
		SensorID:      v.GetString("SENSOR_ID"),
		SensorName:    v.GetString("SENSOR_NAME"),
		SensorBaseURL: v.GetString("SENSOR_BASE_URL"),
		Location:      loc,

		UpdateCron:   v.GetString("UPDATE_CRON"),
		InsertCron:   v.GetString("INSERT_CRON"),
		AlertCron:    v.GetString("ALERT_CRON"),
		RolloverCron: v.GetString("ROLLOVER_CRON"),
		CameraCron:   v.GetString("CAMERA_CRON"),

		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		DynamoDBTable: v.GetString("DYNAMODB_TABLE"),
		DBDSN:         v.GetString("DB_DSN"),
		AWSRegion:     v.GetString("AWS_REGION"),

		MailTransport: strings.ToLower(v.GetString("MAIL_TRANSPORT")),
		MailFrom:      v.GetString("MAIL_FROM"),
		SMTPHost:      v.GetString("SMTP_HOST"),
		SMTPPort:      v.GetInt("SMTP_PORT"),
		SMTPUsername:  v.GetString("SMTP_USERNAME"),
		SMTPPassword:  v.GetString("SMTP_PASSWORD"),
		SNSTopicARN:   v.GetString("AWS_SNS_TOPIC_ARN"),

		MQTTBroker:   v.GetString("MQTT_BROKER"),
		MQTTTopic:    v.GetString("MQTT_TOPIC"),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		CameraURL:      v.GetString("CAMERA_URL"),
		CameraFileName: v.GetString("CAMERA_FILE_NAME"),
		S3Bucket:       v.GetString("AWS_S3_BUCKET"),

		LogDir:   v.GetString("LOG_DIR"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Port:     v.GetString("PORT"),

		MigrateLegacyWarnings:       v.GetBool("MIGRATE_LEGACY_WARNINGS"),
		DefaultTemperatureThreshold: v.GetFloat64("DEFAULT_TEMPERATURE_THRESHOLD"),
		DefaultHumidityThreshold:    v.GetFloat64("DEFAULT_HUMIDITY_THRESHOLD"),
	}

	durations := map[string]*time.Duration{
		"HTTP_TIMEOUT":     &cfg.HTTPTimeout,
		"RETENTION":        &cfg.Retention,
		"WARNING_COOLDOWN": &cfg.WarningCooldown,
		"JOB_TIMEOUT":      &cfg.JobTimeout,
	}

	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
