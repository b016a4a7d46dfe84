package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/device"
	"github.com/kozaktomas/attendance-kiosk/internal/fingerprint"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
	"github.com/kozaktomas/attendance-kiosk/internal/notify"
	"github.com/kozaktomas/attendance-kiosk/internal/recognition"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
	"github.com/kozaktomas/attendance-kiosk/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the attendance kiosk",
	Long: `Run the kiosk loop until interrupted.

Motion on the PIR sensor starts a cycle: the camera frame is matched against
the enrolled faces, a recognized person gets a QR code (shown locally and
mailed), and scanning that code back within its validity records attendance.
The ledger is flushed periodically and once more on shutdown.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("session", "", "Session label (overrides KIOSK_SESSION_LABEL)")
	runCmd.Flags().String("status-addr", "", "Status server listen address (overrides STATUS_ADDR)")
	runCmd.Flags().Bool("no-led", false, "Do not drive the feedback LED")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if s := mustGetString(cmd, "session"); s != "" {
		cfg.Kiosk.SessionLabel = s
	}
	if a := mustGetString(cmd, "status-addr"); a != "" {
		cfg.Status.Addr = a
	}
	if cfg.Camera.SnapshotURL == "" {
		return errors.New("CAMERA_SNAPSHOT_URL is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	dir, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}
	logger.Info("loaded roster", "path", cfg.Roster.Path, "identities", dir.Len())

	back, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := back.Close(); err != nil {
			logger.Warn("closing databases", "error", err)
		}
	}()

	attendance, err := back.loadLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}

	index, err := back.loadFaceIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	matcher := recognition.NewMatcher(fingerprint.NewEmbeddingClient(cfg.Embedding.URL), index, recognitionConfig(cfg), logger)

	motionPin, err := device.OpenPin(cfg.GPIO.MotionPin)
	if err != nil {
		return err
	}
	motion, err := device.NewMotionSensor(motionPin, cfg.GPIO.MotionActiveLow)
	if err != nil {
		return err
	}

	signals := device.MultiSignal{device.NewConsole(os.Stdout, &cfg.Signals, logger)}
	if cfg.GPIO.LEDPin != "" && !mustGetBool(cmd, "no-led") {
		ledPin, err := device.OpenPin(cfg.GPIO.LEDPin)
		if err != nil {
			return err
		}
		led := device.NewLED(ledPin)
		defer led.Close()
		signals = append(signals, led)
	}

	display, err := device.NewFileDisplay(cfg.Storage.QRDir)
	if err != nil {
		return err
	}

	var queue *notify.Queue
	var notifier kiosk.NotificationSink
	if cfg.SMTP.Enabled() {
		mailer := notify.NewMailer(&cfg.SMTP, notify.WithLogger(logger), notify.WithValidity(cfg.Kiosk.ChallengeTTL))
		queue = notify.NewQueue(mailer, constants.NotificationQueueSize, logger)
		notifier = queue
	} else {
		logger.Warn("SMTP not configured, QR codes are only shown on the kiosk", "dir", cfg.Storage.QRDir)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	camera := device.NewSnapshotCamera(cfg.Camera.SnapshotURL)
	if err := checkCamera(ctx, camera); err != nil {
		return err
	}

	metrics := kiosk.NewMetrics(reg)

	orch, err := kiosk.New(kioskConfig(cfg), kiosk.Deps{
		Motion:    motion,
		Frames:    camera,
		Matcher:   matcher,
		Decoder:   device.NewQRDecoder(),
		Renderer:  device.NewQRRenderer(constants.QRCodeSize),
		Display:   display,
		Notifier:  notifier,
		Signals:   signals,
		Directory: dir,
		Ledger:    attendance,
	}, kiosk.WithLogger(logger), kiosk.WithMetrics(metrics))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		flushPeriodically(gctx, attendance, cfg.Storage.FlushInterval, metrics.FlushFailures, logger)
		return nil
	})
	if queue != nil {
		g.Go(func() error {
			return queue.Run(gctx)
		})
	}
	if cfg.Status.Addr != "" {
		server := web.NewServer(cfg.Status.Addr, web.Deps{
			Status:         orch,
			Attendance:     attendance,
			Gatherer:       reg,
			AllowedOrigins: cfg.Status.AllowedOrigins,
		}, logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	fmt.Printf("Kiosk running for session %q (%d identities, %d enrolled faces). Press Ctrl+C to stop.\n",
		cfg.Kiosk.SessionLabel, dir.Len(), index.Count())

	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := attendance.Flush(flushCtx); err != nil {
		metrics.FlushFailures.Inc()
		runErr = errors.Join(runErr, fmt.Errorf("final ledger flush: %w", err))
	}
	logger.Info("kiosk stopped", "events", attendance.Count())
	return runErr
}

// checkCamera grabs one frame so an unreachable camera fails the start
// instead of the first motion cycle.
func checkCamera(ctx context.Context, camera kiosk.FrameSource) error {
	frame, err := camera.Capture(ctx)
	if err != nil {
		return fmt.Errorf("camera not ready: %w", err)
	}
	if frame.Image != nil {
		b := frame.Image.Bounds()
		slog.Info("camera ready", "width", b.Dx(), "height", b.Dy(), "format", frame.Format)
	}
	return nil
}

func recognitionConfig(cfg *config.Config) recognition.Config {
	rc := recognition.DefaultConfig()
	rc.DistanceThreshold = cfg.Embedding.DistanceThreshold
	rc.ScaleFactor = cfg.Kiosk.ScaleFactor
	rc.MinFaceArea = cfg.Embedding.MinFaceArea
	return rc
}

func kioskConfig(cfg *config.Config) kiosk.Config {
	kc := kiosk.DefaultConfig()
	kc.SessionLabel = cfg.Kiosk.SessionLabel
	kc.SecretKey = cfg.Kiosk.SecretKey
	kc.DigestScheme = token.Scheme(cfg.Kiosk.DigestScheme)
	kc.ChallengeTTL = cfg.Kiosk.ChallengeTTL
	kc.DedupInterval = cfg.Kiosk.DedupInterval
	kc.MotionPollInterval = cfg.Kiosk.MotionPollInterval
	kc.FramePollInterval = cfg.Kiosk.FramePollInterval
	kc.RecognitionTimeout = cfg.Kiosk.RecognitionTimeout
	kc.MaxConsecutiveFaults = cfg.Kiosk.MaxFaults
	return kc
}

// flushPeriodically persists the ledger until ctx is done. Failures keep the
// events in memory and are retried on the next tick.
func flushPeriodically(ctx context.Context, l *ledger.Ledger, interval time.Duration, failures prometheus.Counter, logger *slog.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.Dirty() {
				continue
			}
			if err := l.Flush(ctx); err != nil {
				failures.Inc()
				logger.Error("ledger flush failed", "error", err)
			}
		}
	}
}
