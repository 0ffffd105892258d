package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/api"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/detector"
	"github.com/stemsi/exstem-agent/internal/device"
	"github.com/stemsi/exstem-agent/internal/integrity"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/proctor"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/storage"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", "pretty").Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("backend", cfg.BackendURL).
		Str("exam_id", cfg.ExamID).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Exam Agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Resolve Identity ──────────────────────────────────────────────
	token := cfg.AuthToken
	if token == "" {
		token, err = promptToken()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read auth token")
		}
	}

	studentID, err := api.StudentIDFromToken(token)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid auth token")
	}

	examID, err := uuid.Parse(cfg.ExamID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid exam id")
	}

	// ─── Fetch Exam Data ───────────────────────────────────────────────
	// Any failure here is fatal to session start: the exam cannot begin
	// without its questions, the detection model, or camera access.
	client := api.NewClient(cfg.BackendURL, token, log)

	exam, err := client.GetExam(ctx, examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch exam data")
	}
	log.Info().Str("title", exam.Title).Int("questions", len(exam.Questions)).Msg("Exam loaded")

	// ─── Initialize Proctoring Collaborators ───────────────────────────
	det := detector.NewHTTPDetector(cfg.DetectorURL, log)
	if err := det.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Face detection model unavailable")
	}

	camera := device.NewExecCamera(cfg.CaptureImageCmd, cfg.CaptureVideoCmd, cfg.CameraDevice, log)
	if !camera.Alive() {
		log.Fatal().Str("device", cfg.CameraDevice).Msg("Camera not available; the exam cannot start without it")
	}

	// ─── Build Session ─────────────────────────────────────────────────
	store := storage.New(cfg.StateDir, log)
	bridge := newShellBridge(os.Stdout, log)

	ctrl := session.NewController(exam, studentID, client, store, bridge, log)
	ctrl.SetMinViewport(cfg.MinViewportWidth, cfg.MinViewportHeight)
	ctrl.SetEnvironment(deviceInfo(), cfg.ShellUserAgent)
	ctrl.OnTeardown(func() {
		if err := camera.Close(); err != nil {
			log.Warn().Err(err).Msg("Camera release failed")
		}
	})

	capture := proctor.NewCapture(camera, client, studentID, examID, cfg.ClipLength, log)
	presence := proctor.NewMonitor(camera, det, capture, ctrl.Running,
		cfg.PresenceInterval, cfg.CameraCheckInterval, cfg.EvidenceMinGap, log)
	ctrl.AttachPresence(presence)
	ctrl.AddRunner(presence)

	// The violation stream is best-effort: without it the session still
	// runs, evidence uploads remain the out-of-band record.
	var reporter integrity.Reporter
	if rep, err := api.DialReporter(ctx, cfg.BackendURL, examID, token, log); err != nil {
		log.Warn().Err(err).Msg("Violation stream unavailable, continuing without it")
	} else {
		reporter = rep
		ctrl.OnTeardown(func() { _ = rep.Close() })
	}

	mon := integrity.NewMonitor(ctrl, reporter, cfg.MaxBlurCount, cfg.MinViewportWidth, cfg.MinViewportHeight, log)
	ctrl.AttachViolations(mon)
	ctrl.AddRunner(mon)

	// ─── Drive From Shell Commands ─────────────────────────────────────
	go readShellCommands(ctx, os.Stdin, ctrl, mon, bridge, log)

	// ─── Wait for Termination ──────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
		ctrl.Close()
	case <-ctrl.Done():
		log.Info().Msg("Session finished")
	}

	// Allow in-flight evidence uploads and teardown hooks to settle.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("Shutdown complete")
}

// promptToken reads the auth token from the terminal without echo.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Auth token: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// deviceInfo identifies the host in submission metadata.
func deviceInfo() string {
	host, _ := os.Hostname()
	return runtime.GOOS + "/" + runtime.GOARCH + " " + host
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
