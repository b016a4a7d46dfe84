package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed signals.yaml
var signalsYAML []byte

type Config struct {
	Kiosk     KioskConfig
	Roster    RosterConfig
	Embedding EmbeddingConfig
	Camera    CameraConfig
	GPIO      GPIOConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	MariaDB   MariaDBConfig
	SMTP      SMTPConfig
	Status    StatusConfig
	Signals   SignalsConfig
}

type KioskConfig struct {
	SessionLabel       string
	SecretKey          string
	DigestScheme       string        // hmac (default) or legacy
	ChallengeTTL       time.Duration // defaults to 15m
	DedupInterval      time.Duration // defaults to 15m
	MotionPollInterval time.Duration // defaults to 200ms
	FramePollInterval  time.Duration // defaults to 100ms
	RecognitionTimeout time.Duration // 0 waits for a face forever
	ScaleFactor        int           // frames are downscaled by this factor before embedding
	MaxFaults          int           // consecutive capture/sensor faults before giving up
}

type RosterConfig struct {
	Path           string // YAML roster
	EnrollmentPath string // face index written by `roster enroll`
}

type EmbeddingConfig struct {
	URL               string  // defaults to http://localhost:8000
	DistanceThreshold float64 // max cosine distance for a positive match
	MinFaceArea       float64 // faces covering less of the frame are ignored, 0 keeps all
}

type CameraConfig struct {
	SnapshotURL string // HTTP endpoint returning a single JPEG/PNG/BMP frame
}

type GPIOConfig struct {
	MotionPin       string // defaults to GPIO17
	LEDPin          string // defaults to GPIO27, empty disables the LED
	MotionActiveLow bool
}

type StorageConfig struct {
	QRDir         string // rendered challenge codes
	LedgerDir     string // CSV views of the ledger
	SQLitePath    string // optional local attendance database
	FlushInterval time.Duration
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type MariaDBConfig struct {
	DSN string // e.g. kiosk:kiosk@tcp(mariadb:3306)/attendance?parseTime=true
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send mail.
func (c *SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type StatusConfig struct {
	Addr           string // empty disables the status server
	AllowedOrigins []string
}

// SignalsConfig holds the operator-facing message for every kiosk signal.
// Messages may contain {name}, {count} and {remaining} placeholders.
type SignalsConfig struct {
	Messages map[string]string `yaml:"messages"`
}

// Message renders the message for a signal kind. Unknown kinds render as the
// kind itself.
func (c *SignalsConfig) Message(kind, name, count, remaining string) string {
	msg, ok := c.Messages[kind]
	if !ok {
		return kind
	}
	return strings.NewReplacer("{name}", name, "{count}", count, "{remaining}", remaining).Replace(msg)
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration parses a Go duration ("15m", "200ms"). Negative or invalid
// values fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var signals SignalsConfig
	if err := yaml.Unmarshal(signalsYAML, &signals); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded signals.yaml: " + err.Error())
	}

	return &Config{
		Kiosk: KioskConfig{
			SessionLabel:       os.Getenv("KIOSK_SESSION_LABEL"),
			SecretKey:          os.Getenv("KIOSK_SECRET_KEY"),
			DigestScheme:       envString("KIOSK_DIGEST_SCHEME", "hmac"),
			ChallengeTTL:       envDuration("KIOSK_CHALLENGE_TTL", 15*time.Minute),
			DedupInterval:      envDuration("KIOSK_DEDUP_INTERVAL", 15*time.Minute),
			MotionPollInterval: envDuration("KIOSK_MOTION_POLL_INTERVAL", 200*time.Millisecond),
			FramePollInterval:  envDuration("KIOSK_FRAME_POLL_INTERVAL", 100*time.Millisecond),
			RecognitionTimeout: envDuration("KIOSK_RECOGNITION_TIMEOUT", 0),
			ScaleFactor:        envInt("KIOSK_SCALE_FACTOR", 2),
			MaxFaults:          envInt("KIOSK_MAX_FAULTS", 50),
		},
		Roster: RosterConfig{
			Path:           envString("ROSTER_PATH", "roster.yaml"),
			EnrollmentPath: envString("ENROLLMENT_PATH", "enrollment.hnsw"),
		},
		Embedding: EmbeddingConfig{
			URL:               envString("EMBEDDING_URL", "http://localhost:8000"),
			DistanceThreshold: envFloat("FACE_DISTANCE_THRESHOLD", 0.5),
			MinFaceArea:       envFloat("FACE_MIN_AREA", 0),
		},
		Camera: CameraConfig{
			SnapshotURL: os.Getenv("CAMERA_SNAPSHOT_URL"),
		},
		GPIO: GPIOConfig{
			MotionPin:       envString("GPIO_MOTION_PIN", "GPIO17"),
			LEDPin:          envString("GPIO_LED_PIN", "GPIO27"),
			MotionActiveLow: envBool("GPIO_MOTION_ACTIVE_LOW", false),
		},
		Storage: StorageConfig{
			QRDir:         envString("QR_DIR", "qr_codes"),
			LedgerDir:     envString("LEDGER_DIR", "."),
			SQLitePath:    os.Getenv("LEDGER_SQLITE_PATH"),
			FlushInterval: envDuration("LEDGER_FLUSH_INTERVAL", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		MariaDB: MariaDBConfig{
			DSN: os.Getenv("MARIADB_DSN"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Status: StatusConfig{
			Addr:           os.Getenv("STATUS_ADDR"),
			AllowedOrigins: envList("STATUS_ALLOWED_ORIGINS"),
		},
		Signals: signals,
	}
}
