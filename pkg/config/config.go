package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Kafka     KafkaConfig
	HTTP      HTTPConfig
	Plug      PlugConfig
	Alarm     AlarmConfig
	Retention RetentionConfig
	SMTP      SMTPConfig
	MQTT      MQTTConfig
	Import    ImportConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
	StoreTimeout  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type KafkaConfig struct {
	Brokers        []string
	TopicReadings  string
	TopicAlarms    string
	NumPartitions  int
	Ingest         bool
	BatchSize      int
	FlushInterval  time.Duration
	ConsumerGroup  string
	AlarmGroup     string
	CreateTopics   bool
	PublishTimeout time.Duration
}

type HTTPConfig struct {
	Port            int
	CORSOrigin      string
	RateLimitWindow time.Duration
	RateLimitMax    int
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

type PlugConfig struct {
	Store        string // redis, mongo or memory
	AutoOverride string // transient or reject
}

type AlarmConfig struct {
	ThresholdKwh  float64
	CheckInterval time.Duration
	InitialDelay  time.Duration
	Notifier      string // email or queue
	Timezone      string
	InProcess     bool
	MetricsPort   int // /metrics of the standalone alarming process, 0 disables
}

type RetentionConfig struct {
	Period    time.Duration
	TimeOfDay string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type ImportConfig struct {
	Bucket    string
	Key       string
	Region    string
	BatchSize int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	storeTimeout := getEnvAsDuration("STORE_TIMEOUT", 5*time.Second)

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "heating_user"),
			Password:      getEnv("DB_PASSWORD", "heating_pass"),
			DBName:        getEnv("DB_NAME", "heating_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
			StoreTimeout:  storeTimeout,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DATABASE", "heating"),
			Collection: getEnv("MONGO_COLLECTION", "plug_control"),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicReadings:  getEnv("KAFKA_TOPIC_READINGS", "heating.readings.raw"),
			TopicAlarms:    getEnv("KAFKA_TOPIC_ALARMS", "heating.alarms"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
			Ingest:         getEnvAsBool("KAFKA_INGEST", false),
			BatchSize:      getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			FlushInterval:  getEnvAsDuration("KAFKA_FLUSH_INTERVAL", 5*time.Second),
			ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "dbwriter-group"),
			AlarmGroup:     getEnv("KAFKA_ALARM_GROUP", "notification-group"),
			CreateTopics:   getEnvAsBool("KAFKA_CREATE_TOPICS", true),
			PublishTimeout: getEnvAsDuration("KAFKA_PUBLISH_TIMEOUT", 10*time.Second),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 5000),
			CORSOrigin:      getEnv("CORS_ORIGIN", "http://localhost:5173"),
			RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			RateLimitMax:    getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
			TrustProxy:      getEnvAsBool("TRUST_PROXY", false),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Plug: PlugConfig{
			Store:        strings.ToLower(getEnv("PLUG_STORE", "redis")),
			AutoOverride: strings.ToLower(getEnv("PLUG_AUTO_OVERRIDE", "transient")),
		},
		Alarm: AlarmConfig{
			ThresholdKwh:  getEnvAsFloat("VERBRAUCH_SCHWELLENWERT", getEnvAsFloat("ALARM_THRESHOLD_KWH", 12)),
			CheckInterval: time.Duration(getEnvAsInt("ALARM_CHECK_INTERVAL_MINUTES", 60)) * time.Minute,
			InitialDelay:  getEnvAsDuration("ALARM_INITIAL_DELAY", 10*time.Second),
			Notifier:      strings.ToLower(getEnv("ALARM_NOTIFIER", "email")),
			Timezone:      getEnv("ALARM_TIMEZONE", "Europe/Berlin"),
			InProcess:     getEnvAsBool("ALARM_IN_PROCESS", true),
			MetricsPort:   getEnvAsInt("ALARM_METRICS_PORT", 9102),
		},
		Retention: RetentionConfig{
			Period:    time.Duration(getEnvAsInt("RETENTION_DAYS", 30)) * 24 * time.Hour,
			TimeOfDay: getEnv("RETENTION_TIME", "03:00"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "heating-monitor@example.com"),
			To:       getEnv("SMTP_TO", ""),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "heating-monitor"),
			TopicPrefix: strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "heating/plug"), "/"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
		},
		Import: ImportConfig{
			Bucket:    getEnv("IMPORT_BUCKET", ""),
			Key:       getEnv("IMPORT_KEY", ""),
			Region:    getEnv("AWS_REGION", "eu-central-1"),
			BatchSize: getEnvAsInt("IMPORT_BATCH_SIZE", 500),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings that cannot work
func (c *Config) Validate() error {
	switch c.Plug.Store {
	case "redis", "mongo", "memory":
	default:
		return fmt.Errorf("invalid PLUG_STORE %q (expected redis, mongo or memory)", c.Plug.Store)
	}
	switch c.Plug.AutoOverride {
	case "transient", "reject":
	default:
		return fmt.Errorf("invalid PLUG_AUTO_OVERRIDE %q (expected transient or reject)", c.Plug.AutoOverride)
	}
	switch c.Alarm.Notifier {
	case "email", "queue":
	default:
		return fmt.Errorf("invalid ALARM_NOTIFIER %q (expected email or queue)", c.Alarm.Notifier)
	}
	if c.Alarm.ThresholdKwh <= 0 {
		return fmt.Errorf("alarm threshold must be positive, got %v", c.Alarm.ThresholdKwh)
	}
	if c.Alarm.CheckInterval <= 0 {
		return fmt.Errorf("ALARM_CHECK_INTERVAL_MINUTES must be positive")
	}
	if _, err := time.LoadLocation(c.Alarm.Timezone); err != nil {
		return fmt.Errorf("invalid ALARM_TIMEZONE %q: %w", c.Alarm.Timezone, err)
	}
	return nil
}

// CheckAlarmDelivery fails when alarms would be handed to the queue without a way to email them.
// In queue mode the alarm counts as sent once Kafka accepts it, so SMTP must be usable downstream.
func (c *Config) CheckAlarmDelivery() error {
	if c.Alarm.Notifier == "queue" && !c.SMTP.Configured() {
		return fmt.Errorf("ALARM_NOTIFIER=queue requires SMTP_USERNAME, SMTP_PASSWORD and SMTP_TO")
	}
	return nil
}

// Configured reports whether credentials and at least one recipient are set
func (s SMTPConfig) Configured() bool {
	return s.Username != "" && s.Password != "" && strings.Trim(s.To, ", ") != ""
}

// Location returns the time zone that defines a calendar day
func (a AlarmConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
