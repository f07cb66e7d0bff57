// Command replay feeds a recorded detection log through the tracking
// pipeline offline.
//
// The input is JSONL: one DetectionFrame object per line, in the same
// shape the daemon accepts as a UDP datagram. Frames are ingested in
// file order through a fresh pipeline and a per-obstacle kinematic
// summary is printed. Accepted features can optionally be recorded to
// a SQLite store, and a trajectory plot written for a single obstacle.
//
// Usage:
//
//	go run ./cmd/tools/replay [flags]
//
// Flags:
//
//	-log        Path to the JSONL detection log (required)
//	-config     Path to a tuning config JSON file (default: built-in defaults)
//	-db         Record accepted features to this SQLite database
//	-run-label  Label stored with the recording run
//	-plot       Write a trajectory plot for one obstacle, e.g. -plot 42=track42.png
//	-units      Display units for printed speeds (default: mps)
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/foresight/internal/api"
	"github.com/banshee-data/foresight/internal/config"
	"github.com/banshee-data/foresight/internal/obstacle"
	"github.com/banshee-data/foresight/internal/obstacledb"
	"github.com/banshee-data/foresight/internal/pipeline"
	"github.com/banshee-data/foresight/internal/units"
)

// flushThreshold bounds the writer's in-memory batch between inline
// flushes; the replay never runs the writer goroutine.
const flushThreshold = 4096

// replayResult accumulates whole-file ingestion totals.
type replayResult struct {
	Frames     int
	Detections int
	Accepted   int
	Rejected   int
	BadLines   int
}

func replay(rt *pipeline.Runtime, writer *obstacledb.AsyncWriter, r io.Reader) (*replayResult, error) {
	scanner := bufio.NewScanner(r)
	// A dense frame runs tens of KB as JSON; size the line buffer well
	// past the UDP maximum the daemon accepts.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	res := &replayResult{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame obstacle.DetectionFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Printf("line %d: skipping malformed frame: %v", lineNo, err)
			res.BadLines++
			continue
		}

		fs := rt.IngestFrame(frame)
		res.Frames++
		res.Detections += fs.Detections
		res.Accepted += fs.Accepted
		res.Rejected += fs.Rejected

		if writer != nil && writer.Pending() >= flushThreshold {
			writer.Flush()
		}
	}
	return res, scanner.Err()
}

func printResults(rt *pipeline.Runtime, res *replayResult, displayUnits string) {
	fmt.Println("\n=== Replay Results ===")
	fmt.Printf("Frames: %d\n", res.Frames)
	fmt.Printf("Detections: %d (%d accepted, %d rejected)\n", res.Detections, res.Accepted, res.Rejected)
	if res.BadLines > 0 {
		fmt.Printf("Malformed lines skipped: %d\n", res.BadLines)
	}
	fmt.Printf("Obstacles tracked: %d\n", rt.Container.Len())

	ids := rt.Container.IDs()
	sort.Ints(ids)

	label := units.SpeedLabel(displayUnits)
	fmt.Println("\n--- Per-Obstacle Summaries ---")
	for _, id := range ids {
		o, ok := rt.Container.Obstacle(id)
		if !ok || o.HistorySize() == 0 {
			continue
		}
		s := o.Summary()
		fmt.Printf("\nObstacle %d (%s):\n", id, o.Type())
		fmt.Printf("  Observations: %d over %.2fs\n", s.ObservationCount, s.Duration)
		fmt.Printf("  Speed: mean %.2f, p85 %.2f, peak %.2f %s\n",
			units.ConvertSpeed(s.SpeedMean, displayUnits),
			units.ConvertSpeed(s.SpeedP85, displayUnits),
			units.ConvertSpeed(s.SpeedPeak, displayUnits),
			label)
		fmt.Printf("  Accel: mean %.2f m/s²\n", s.AccelMean)
		fmt.Printf("  Straightness: %.2f\n", s.Straightness)
	}
}

// writePlot renders the trajectory of one obstacle. spec is "ID=path",
// e.g. "42=track42.png"; the extension picks the image format.
func writePlot(rt *pipeline.Runtime, spec string) error {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("plot spec must be ID=path, got %q", spec)
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid obstacle id %q: %v", parts[0], err)
	}
	path := parts[1]

	o, ok := rt.Container.Obstacle(id)
	if !ok || o.HistorySize() == 0 {
		return fmt.Errorf("obstacle %d has no recorded features", id)
	}

	// History is newest first; the plot wants travel order.
	features := o.Features(0)
	for i, j := 0, len(features)-1; i < j; i, j = i+1, j-1 {
		features[i], features[j] = features[j], features[i]
	}

	p, err := api.TrajectoryPlot(id, o.Type(), features)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return err
	}
	log.Printf("Wrote trajectory plot for obstacle %d to %s", id, path)
	return nil
}

func main() {
	logPath := flag.String("log", "", "Path to the JSONL detection log (required)")
	configPath := flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	dbFile := flag.String("db", "", "Record accepted features to this SQLite database")
	runLabel := flag.String("run-label", "", "Label stored with the recording run")
	plotSpec := flag.String("plot", "", "Write a trajectory plot for one obstacle, e.g. -plot 42=track42.png")
	displayUnits := flag.String("units", units.MPS, "Display units for printed speeds")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("Error: -log flag is required")
	}
	if !units.IsValid(*displayUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", *displayUnits, units.GetValidUnitsString())
	}

	var tc *config.TuningConfig
	if *configPath != "" {
		var err error
		tc, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		tc = config.EmptyTuningConfig()
	}

	var store *obstacledb.DB
	var writer *obstacledb.AsyncWriter
	var sink pipeline.FeatureSink
	var runID string
	if *dbFile != "" {
		var err error
		store, err = obstacledb.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open feature database: %v", err)
		}
		defer store.Close()

		runID, err = store.BeginRun(*runLabel)
		if err != nil {
			log.Fatalf("Failed to begin recording run: %v", err)
		}

		writer = obstacledb.NewAsyncWriter(obstacledb.AsyncWriterConfig{DB: store, RunID: runID})
		sink = writer
	}

	rt := pipeline.NewRuntime(tc, sink)

	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatalf("Failed to open detection log: %v", err)
	}
	defer f.Close()

	result, err := replay(rt, writer, f)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	printResults(rt, result, *displayUnits)

	if store != nil {
		writer.Flush()
		summary, err := store.Summarise(runID)
		if err != nil {
			log.Fatalf("Failed to summarise run: %v", err)
		}
		fmt.Printf("\nRecorded %d features across %d obstacles to %s (run %s)\n",
			summary.Features, summary.Obstacles, *dbFile, runID)
	}

	if *plotSpec != "" {
		if err := writePlot(rt, *plotSpec); err != nil {
			log.Fatalf("Failed to write trajectory plot: %v", err)
		}
	}
}
