package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/database/mock"
	"github.com/kozaktomas/attendance-kiosk/internal/device"
	"github.com/kozaktomas/attendance-kiosk/internal/fingerprint"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
	"github.com/kozaktomas/attendance-kiosk/internal/recognition"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// photoEmbedder finds one face in every photo except those facelessWidth pixels wide.
type photoEmbedder struct {
	facelessWidth int
}

func (e *photoEmbedder) ComputeFaceEmbeddings(ctx context.Context, data []byte) (*fingerprint.FaceResponse, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() == e.facelessWidth {
		return &fingerprint.FaceResponse{}, nil
	}
	return &fingerprint.FaceResponse{
		FacesCount: 1,
		Faces: []fingerprint.FaceDetection{{
			Embedding: []float32{1, 0, 0},
			BBox:      []float64{0, 0, 10, 10},
			DetScore:  0.9,
		}},
	}, nil
}

func writePhoto(t *testing.T, dir, name string, width int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 16))
	for x := range width {
		img.Set(x, x%16, color.White)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrollIdentities(t *testing.T) {
	dir := t.TempDir()
	writePhoto(t, dir, "jana1.png", 32)
	writePhoto(t, dir, "jana2.png", 40)
	writePhoto(t, dir, "petr.png", 24) // faceless

	identities := []roster.Identity{
		{ID: "S001", DisplayName: "Jana", Photos: []string{"jana1.png", "jana2.png", "missing.png"}},
		{ID: "S002", DisplayName: "Petr", Photos: []string{"petr.png"}},
		{ID: "S003", DisplayName: "Eva"},
	}

	store := mock.NewMockEnrolledFaceStore()
	store.AddFace(database.EnrolledFace{IdentityID: "S002", Embedding: []float32{0, 1, 0}})

	enroller := recognition.NewEnroller(&photoEmbedder{facelessWidth: 24}, 0.5)
	progressCalls := 0
	enrolled, rejected, err := enrollIdentities(context.Background(), enroller, identities, dir,
		[]database.EnrolledFaceWriter{store}, func() { progressCalls++ }, discardLogger())
	if err != nil {
		t.Fatalf("enrollIdentities() error = %v", err)
	}

	if enrolled != 2 {
		t.Errorf("enrolled = %d, want 2", enrolled)
	}
	if rejected != 2 {
		t.Errorf("rejected = %d, want 2 (missing file and faceless photo)", rejected)
	}
	if progressCalls != 4 {
		t.Errorf("progress called %d times, want 4", progressCalls)
	}
	if len(store.ReplaceCalls) != 1 || store.ReplaceCalls[0] != "S001" {
		t.Errorf("ReplaceCalls = %v, want [S001]", store.ReplaceCalls)
	}

	faces, _ := store.All(context.Background())
	perIdentity := map[string]int{}
	for _, f := range faces {
		perIdentity[f.IdentityID]++
	}
	if perIdentity["S001"] != 2 {
		t.Errorf("S001 has %d faces, want 2", perIdentity["S001"])
	}
	if perIdentity["S002"] != 1 {
		t.Errorf("S002 should keep its previous face, has %d", perIdentity["S002"])
	}
}

func TestEnrollIdentities_StoreFailure(t *testing.T) {
	dir := t.TempDir()
	writePhoto(t, dir, "jana.png", 32)

	store := mock.NewMockEnrolledFaceStore()
	store.ReplaceError = errors.New("disk full")

	enroller := recognition.NewEnroller(&photoEmbedder{}, 0.5)
	_, _, err := enrollIdentities(context.Background(), enroller,
		[]roster.Identity{{ID: "S001", Photos: []string{"jana.png"}}}, dir,
		[]database.EnrolledFaceWriter{store}, nil, discardLogger())
	if err == nil {
		t.Fatal("expected error when the store fails")
	}
}

func TestSelectIdentities(t *testing.T) {
	dir, err := roster.New([]roster.Identity{{ID: "S001"}, {ID: "S002"}, {ID: "S003"}})
	if err != nil {
		t.Fatal(err)
	}

	all, err := selectIdentities(dir, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("selectIdentities(nil) = %d identities, %v", len(all), err)
	}

	some, err := selectIdentities(dir, []string{"S003", "S001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 2 || some[0].ID != "S003" || some[1].ID != "S001" {
		t.Errorf("selectIdentities() = %v", some)
	}

	if _, err := selectIdentities(dir, []string{"S404"}); err == nil {
		t.Error("expected error for unknown identity")
	}
}

func TestKioskConfig(t *testing.T) {
	cfg := &config.Config{Kiosk: config.KioskConfig{
		SessionLabel:       "CS101",
		SecretKey:          "k",
		DigestScheme:       "legacy",
		ChallengeTTL:       5 * time.Minute,
		DedupInterval:      time.Hour,
		MotionPollInterval: 50 * time.Millisecond,
		FramePollInterval:  20 * time.Millisecond,
		RecognitionTimeout: 30 * time.Second,
		MaxFaults:          7,
	}}

	kc := kioskConfig(cfg)
	if kc.SessionLabel != "CS101" || kc.SecretKey != "k" {
		t.Errorf("session/secret not carried over: %+v", kc)
	}
	if kc.DigestScheme != token.SchemeLegacy {
		t.Errorf("DigestScheme = %q, want legacy", kc.DigestScheme)
	}
	if kc.ChallengeTTL != 5*time.Minute || kc.DedupInterval != time.Hour {
		t.Errorf("intervals not carried over: %+v", kc)
	}
	if kc.MaxConsecutiveFaults != 7 || kc.RecognitionTimeout != 30*time.Second {
		t.Errorf("faults/timeout not carried over: %+v", kc)
	}
	if kc.FeedbackPause == 0 {
		t.Error("FeedbackPause should keep its default")
	}
}

func TestRecognitionConfig(t *testing.T) {
	cfg := &config.Config{
		Kiosk:     config.KioskConfig{ScaleFactor: 3},
		Embedding: config.EmbeddingConfig{DistanceThreshold: 0.4, MinFaceArea: 0.05},
	}

	rc := recognitionConfig(cfg)
	if rc.DistanceThreshold != 0.4 || rc.ScaleFactor != 3 || rc.MinFaceArea != 0.05 {
		t.Errorf("recognitionConfig() = %+v", rc)
	}
	if !rc.SkipUnchanged {
		t.Error("SkipUnchanged should keep its default")
	}
}

func TestSetupLogging(t *testing.T) {
	if err := setupLogging("DEBUG"); err != nil {
		t.Errorf("setupLogging(DEBUG) error = %v", err)
	}
	if err := setupLogging("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	t.Cleanup(func() { _ = setupLogging("info") })
}

type failingStore struct{}

func (failingStore) Write(context.Context, ledger.Snapshot) error {
	return errors.New("disk full")
}

func TestFlushPeriodically(t *testing.T) {
	csvStore, err := ledger.NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(csvStore, "CS101")
	l.Append(ledger.NewEvent(roster.Identity{ID: "S001", DisplayName: "Jana"}, "CS101", time.Now(), time.Now()))

	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_flush_failures_total"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flushPeriodically(ctx, l, 5*time.Millisecond, failures, discardLogger())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.Dirty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if l.Dirty() {
		t.Error("ledger should have been flushed")
	}
	if got := testutil.ToFloat64(failures); got != 0 {
		t.Errorf("failures = %v, want 0", got)
	}
}

func TestFlushPeriodically_CountsFailures(t *testing.T) {
	l := ledger.New(failingStore{}, "CS101")
	l.Append(ledger.NewEvent(roster.Identity{ID: "S001"}, "CS101", time.Now(), time.Now()))

	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_flush_failures_total"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flushPeriodically(ctx, l, 5*time.Millisecond, failures, discardLogger())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(failures) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if testutil.ToFloat64(failures) == 0 {
		t.Error("failed flushes should be counted")
	}
	if !l.Dirty() {
		t.Error("events must stay pending after a failed flush")
	}
	if l.Count() != 1 {
		t.Errorf("Count() = %d, want 1", l.Count())
	}
}

func TestFlushPeriodically_DisabledWaitsForCancel(t *testing.T) {
	l := ledger.New(failingStore{}, "CS101")
	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_flush_failures_total"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	flushPeriodically(ctx, l, 0, failures, discardLogger())
	if ctx.Err() == nil {
		t.Error("should only return once the context is done")
	}
}

func TestCheckCamera(t *testing.T) {
	var frame bytes.Buffer
	if err := png.Encode(&frame, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name: "serves a frame",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(frame.Bytes())
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "sensor offline", http.StatusInternalServerError)
			},
			wantErr: true,
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>login</html>"))
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			err := checkCamera(context.Background(), device.NewSnapshotCamera(server.URL))
			if (err != nil) != tc.wantErr {
				t.Errorf("checkCamera() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCheckCamera_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := checkCamera(context.Background(), device.NewSnapshotCamera(url)); err == nil {
		t.Error("expected error for a camera nobody listens on")
	}
}
