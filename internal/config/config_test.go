package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"KIOSK_CHALLENGE_TTL", "KIOSK_DEDUP_INTERVAL", "KIOSK_SCALE_FACTOR",
		"KIOSK_DIGEST_SCHEME", "GPIO_MOTION_PIN", "SMTP_PORT", "FACE_DISTANCE_THRESHOLD", "FACE_MIN_AREA",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Kiosk.ChallengeTTL != 15*time.Minute {
		t.Errorf("expected default ChallengeTTL 15m, got %v", cfg.Kiosk.ChallengeTTL)
	}
	if cfg.Kiosk.DedupInterval != 15*time.Minute {
		t.Errorf("expected default DedupInterval 15m, got %v", cfg.Kiosk.DedupInterval)
	}
	if cfg.Kiosk.ScaleFactor != 2 {
		t.Errorf("expected default ScaleFactor 2, got %d", cfg.Kiosk.ScaleFactor)
	}
	if cfg.Kiosk.DigestScheme != "hmac" {
		t.Errorf("expected default scheme hmac, got %q", cfg.Kiosk.DigestScheme)
	}
	if cfg.GPIO.MotionPin != "GPIO17" {
		t.Errorf("expected default motion pin GPIO17, got %q", cfg.GPIO.MotionPin)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("expected default SMTP port 587, got %d", cfg.SMTP.Port)
	}
	if cfg.Embedding.DistanceThreshold != 0.5 {
		t.Errorf("expected default threshold 0.5, got %v", cfg.Embedding.DistanceThreshold)
	}
	if cfg.Embedding.MinFaceArea != 0 {
		t.Errorf("expected the face area filter off by default, got %v", cfg.Embedding.MinFaceArea)
	}
}

func TestLoad_MinFaceArea(t *testing.T) {
	t.Setenv("FACE_MIN_AREA", "0.04")
	if got := Load().Embedding.MinFaceArea; got != 0.04 {
		t.Errorf("expected MinFaceArea 0.04, got %v", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("KIOSK_SESSION_LABEL", "CS101")
	t.Setenv("KIOSK_SECRET_KEY", "secret")
	t.Setenv("KIOSK_CHALLENGE_TTL", "5m")
	t.Setenv("KIOSK_RECOGNITION_TIMEOUT", "30s")
	t.Setenv("GPIO_MOTION_ACTIVE_LOW", "true")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "kiosk@example.com")

	cfg := Load()

	if cfg.Kiosk.SessionLabel != "CS101" {
		t.Errorf("expected session label CS101, got %q", cfg.Kiosk.SessionLabel)
	}
	if cfg.Kiosk.ChallengeTTL != 5*time.Minute {
		t.Errorf("expected ChallengeTTL 5m, got %v", cfg.Kiosk.ChallengeTTL)
	}
	if cfg.Kiosk.RecognitionTimeout != 30*time.Second {
		t.Errorf("expected RecognitionTimeout 30s, got %v", cfg.Kiosk.RecognitionTimeout)
	}
	if !cfg.GPIO.MotionActiveLow {
		t.Error("expected MotionActiveLow to be true")
	}
	if !cfg.SMTP.Enabled() {
		t.Error("expected SMTP to be enabled")
	}
}

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", time.Minute},
		{"valid", "90s", 90 * time.Second},
		{"zero", "0", 0},
		{"negative", "-5s", time.Minute},
		{"garbage", "soon", time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.value)
			if got := envDuration("TEST_DURATION", time.Minute); got != tc.want {
				t.Errorf("envDuration() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 7},
		{"valid", "3", 3},
		{"zero", "0", 7},
		{"negative", "-1", 7},
		{"garbage", "abc", 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tc.value)
			if got := envInt("TEST_INT", 7); got != tc.want {
				t.Errorf("envInt() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSignalMessages(t *testing.T) {
	cfg := Load()

	for _, kind := range []string{"waiting", "motion_detected", "challenging", "blocked", "success", "expired", "not_enrolled"} {
		if _, ok := cfg.Signals.Messages[kind]; !ok {
			t.Errorf("missing message for signal %q", kind)
		}
	}

	got := cfg.Signals.Message("success", "Jana", "3", "")
	if got != "Attendance recorded for Jana (3 today)" {
		t.Errorf("unexpected message: %q", got)
	}
	if got := cfg.Signals.Message("unknown", "", "", ""); got != "unknown" {
		t.Errorf("expected unknown kind to render as itself, got %q", got)
	}
}
