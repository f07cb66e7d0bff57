package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banshee-data/foresight/internal/api"
	"github.com/banshee-data/foresight/internal/config"
	"github.com/banshee-data/foresight/internal/monitoring"
	"github.com/banshee-data/foresight/internal/obstacle"
	"github.com/banshee-data/foresight/internal/obstacledb"
	"github.com/banshee-data/foresight/internal/pipeline"
	"github.com/banshee-data/foresight/internal/units"
	"github.com/banshee-data/foresight/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	udpPort      = flag.Int("udp-port", 2370, "UDP port to listen for detection frames")
	udpAddress   = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	configPath   = flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	dbFile       = flag.String("db", "foresight_data.db", "Path to the SQLite feature database")
	runLabel     = flag.String("run-label", "", "Label stored with this recording run")
	displayUnits = flag.String("units", units.MPS, "Display units for API speed fields")
	logFile      = flag.String("log-file", "", "Rotate logs to this file instead of stderr")
	rcvBuf       = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval  = flag.Int("log-interval", 2, "Statistics logging interval in seconds")
	verbose      = flag.Bool("verbose", false, "Log every rejected detection with its reason")
)

// formatWithCommas formats a number with thousands separators
func formatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}

// Ingest statistics tracking
type IngestStats struct {
	mu         sync.Mutex
	frameCount int64
	byteCount  int64
	accepted   int64
	rejected   int64
	malformed  int64
	lastReset  time.Time
}

func (is *IngestStats) AddFrame(bytes int, stats obstacle.FrameStats) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.frameCount++
	is.byteCount += int64(bytes)
	is.accepted += int64(stats.Accepted)
	is.rejected += int64(stats.Rejected)
}

func (is *IngestStats) AddMalformed() {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.malformed++
}

func (is *IngestStats) GetAndReset() (frames, bytes, accepted, rejected, malformed int64, duration time.Duration) {
	is.mu.Lock()
	defer is.mu.Unlock()

	now := time.Now()
	duration = now.Sub(is.lastReset)
	frames = is.frameCount
	bytes = is.byteCount
	accepted = is.accepted
	rejected = is.rejected
	malformed = is.malformed

	is.frameCount = 0
	is.byteCount = 0
	is.accepted = 0
	is.rejected = 0
	is.malformed = 0
	is.lastReset = now

	return
}

func handleFrameDatagram(stats *IngestStats, rt *pipeline.Runtime, packet []byte) error {
	var frame obstacle.DetectionFrame
	if err := json.Unmarshal(packet, &frame); err != nil {
		stats.AddMalformed()
		return fmt.Errorf("failed to unmarshal detection frame: %v", err)
	}

	fs := rt.IngestFrame(frame)
	stats.AddFrame(len(packet), fs)
	return nil
}

// UDP listener for detection frames
func listenUDP(ctx context.Context, rt *pipeline.Runtime, address string) error {
	// Parse the address
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %v", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %v", err)
	}
	defer conn.Close()

	// Set socket receive buffer size
	if err := conn.SetReadBuffer(*rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", *rcvBuf, err)
	} else {
		log.Printf("Set UDP receive buffer to %d bytes", *rcvBuf)
	}

	log.Printf("Listening for detection frames on %s", address)

	// Initialize ingest statistics
	stats := &IngestStats{lastReset: time.Now()}

	// Start periodic logging goroutine
	go func() {
		ticker := time.NewTicker(time.Duration(*logInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frames, bytes, accepted, rejected, malformed, duration := stats.GetAndReset()
				if frames > 0 || malformed > 0 {
					framesPerSec := float64(frames) / duration.Seconds()
					kbPerSec := float64(bytes) / duration.Seconds() / 1024
					detectionsPerSec := float64(accepted+rejected) / duration.Seconds()

					logMsg := fmt.Sprintf("Ingest stats (/sec): %.1f frames, %.1f KB, %s detections",
						framesPerSec, kbPerSec, formatWithCommas(int64(detectionsPerSec)))
					if rejected > 0 {
						logMsg += fmt.Sprintf(", %d rejected", rejected)
					}
					if malformed > 0 {
						logMsg += fmt.Sprintf(", %d malformed frames", malformed)
					}

					log.Print(logMsg)
				}
			}
		}
	}()

	// Buffer for incoming datagrams - a dense detection frame runs tens of
	// KB as JSON, so size for the UDP maximum rather than a sensor MTU.
	buffer := make([]byte, 64<<10)

	log.Printf("Starting UDP frame receive loop...")
	timeoutCount := 0

	for {
		select {
		case <-ctx.Done():
			log.Println("UDP listener shutting down")
			return ctx.Err()
		default:
			// Set a read timeout to allow checking for context cancellation
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				log.Printf("Error setting read deadline: %v", err)
				continue
			}

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					// Timeout is expected, continue the loop
					timeoutCount++
					if timeoutCount%10 == 0 {
						log.Printf("No frames received for %d seconds", timeoutCount)
					}
					continue
				}
				log.Printf("Error reading UDP packet: %v", err)
				continue
			}

			// Reset timeout counter when we receive a frame
			timeoutCount = 0

			if err := handleFrameDatagram(stats, rt, buffer[:n]); err != nil {
				log.Printf("Error handling detection frame: %v", err)
			}
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	if !units.IsValid(*displayUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", *displayUnits, units.GetValidUnitsString())
	}

	if *verbose {
		monitoring.SetDiagnostics(log.Writer(), nil)
	}

	log.Printf("foresight %s", version.String())

	// Load tuning configuration
	var tc *config.TuningConfig
	if *configPath != "" {
		var err error
		tc, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configPath)
	} else {
		tc = config.EmptyTuningConfig()
		log.Print("Using built-in tuning defaults (use -config to override)")
	}

	// Construct UDP listen address
	var udpListenAddr string
	if *udpAddress == "" {
		udpListenAddr = fmt.Sprintf(":%d", *udpPort)
	} else {
		udpListenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
	}

	// Initialize feature persistence if enabled
	var store *obstacledb.DB
	var writer *obstacledb.AsyncWriter
	var sink pipeline.FeatureSink
	if tc.GetPersistFeatures() {
		var err error
		store, err = obstacledb.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open feature database: %v", err)
		}
		defer store.Close()

		runID, err := store.BeginRun(*runLabel)
		if err != nil {
			log.Fatalf("Failed to begin recording run: %v", err)
		}
		log.Printf("Recording features to %s (run %s)", *dbFile, runID)

		writer = obstacledb.NewAsyncWriter(obstacledb.AsyncWriterConfig{
			DB:       store,
			RunID:    runID,
			Interval: tc.GetFlushInterval(),
		})
		sink = writer
	} else {
		log.Print("Feature persistence disabled (set persist_features in the tuning config to enable)")
	}

	rt := pipeline.NewRuntime(tc, sink)
	rt.Start()
	defer rt.Stop()

	// Create a wait group for the HTTP server, UDP listener, and feature
	// writer routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start feature writer routine
	if writer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writer.Run(ctx); err != nil {
				log.Printf("Feature writer error: %v", err)
			}
			log.Print("Feature writer routine terminated")
		}()
	}

	// Start UDP listener routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listenUDP(ctx, rt, udpListenAddr); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("UDP listener routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(rt, store, *displayUnits)
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(srv.ServeMux()),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
