// Package osm builds the corridor's simulation network: it downloads an
// OpenStreetMap extract for the configured bounding box and compiles it
// with the SUMO toolchain — netconvert for the drivable road graph,
// polyconvert for building polygons, randomTrips.py for traffic demand.
// The conversion algorithms themselves stay in the external binaries.
package osm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/corridor.twin/internal/fsutil"
	"github.com/banshee-data/corridor.twin/internal/httputil"
	"github.com/banshee-data/corridor.twin/internal/monitoring"
)

// DefaultBBox covers the Bole Road corridor, the network the harvested
// datasets were produced on. Format: minLon,minLat,maxLon,maxLat.
const DefaultBBox = "38.760,8.995,38.780,9.015"

// DefaultAPIBase is the public OpenStreetMap API.
const DefaultAPIBase = "https://api.openstreetmap.org"

// maxExtractBytes caps the download; the corridor extract is ~5 MB and
// anything much larger means the bbox is wrong.
const maxExtractBytes = 256 << 20

// CommandRunner abstracts toolchain invocation so tests run without a
// SUMO install.
type CommandRunner interface {
	// Run executes the command and returns its combined output.
	Run(name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Config locates the map build: what to download and where to put it.
type Config struct {
	// BBox is the extract bounding box, minLon,minLat,maxLon,maxLat.
	BBox string

	// OutputDir receives the raw extract and the compiled network.
	OutputDir string

	// SumoHome is the SUMO install root. Empty reads $SUMO_HOME.
	SumoHome string

	// APIBase overrides the OpenStreetMap API host, for tests.
	APIBase string

	// TripSteps is the demand horizon passed to randomTrips.py.
	TripSteps int
}

func (c Config) withDefaults() Config {
	if c.BBox == "" {
		c.BBox = DefaultBBox
	}
	if c.OutputDir == "" {
		c.OutputDir = "network"
	}
	if c.SumoHome == "" {
		c.SumoHome = os.Getenv("SUMO_HOME")
	}
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.TripSteps == 0 {
		c.TripSteps = 3600
	}
	return c
}

// validateBBox checks the minLon,minLat,maxLon,maxLat shape so a typo
// fails here instead of as an opaque API error.
func validateBBox(bbox string) error {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat, got %q", bbox)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return fmt.Errorf("bbox component %d is not a number: %q", i+1, part)
		}
		vals[i] = v
	}
	if vals[0] >= vals[2] || vals[1] >= vals[3] {
		return fmt.Errorf("bbox is empty: %q", bbox)
	}
	return nil
}

// Builder downloads and compiles one corridor network.
type Builder struct {
	cfg    Config
	client httputil.HTTPClient
	fs     fsutil.FileSystem
	runner CommandRunner
}

// NewBuilder assembles a builder. A nil client, filesystem, or runner
// picks the real implementation.
func NewBuilder(cfg Config, client httputil.HTTPClient, fs fsutil.FileSystem, runner CommandRunner) (*Builder, error) {
	cfg = cfg.withDefaults()
	if err := validateBBox(cfg.BBox); err != nil {
		return nil, err
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Builder{cfg: cfg, client: client, fs: fs, runner: runner}, nil
}

// Output file locations inside the configured directory.
func (b *Builder) RawFile() string  { return filepath.Join(b.cfg.OutputDir, "corridor_raw.osm") }
func (b *Builder) NetFile() string  { return filepath.Join(b.cfg.OutputDir, "osm.net.xml") }
func (b *Builder) PolyFile() string { return filepath.Join(b.cfg.OutputDir, "osm.poly.xml") }

// TripsFiles returns the generated demand files, cars then buses.
func (b *Builder) TripsFiles() (string, string) {
	return filepath.Join(b.cfg.OutputDir, "osm.passenger.trips.xml"),
		filepath.Join(b.cfg.OutputDir, "osm.bus.trips.xml")
}

// Download fetches the raw OSM extract for the bounding box and writes
// it to the output directory.
func (b *Builder) Download(ctx context.Context) error {
	if err := b.fs.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	url := fmt.Sprintf("%s/api/0.6/map?bbox=%s", b.cfg.APIBase, b.cfg.BBox)
	monitoring.Logf("osm: downloading extract for bbox %s", b.cfg.BBox)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build map request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download map data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("map download failed with status %d (the OSM API rejects oversized bboxes)", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractBytes))
	if err != nil {
		return fmt.Errorf("failed to read map data: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("map download returned no data for bbox %s", b.cfg.BBox)
	}

	if err := b.fs.WriteFile(b.RawFile(), data, 0644); err != nil {
		return fmt.Errorf("failed to write raw extract: %w", err)
	}
	monitoring.Logf("osm: raw extract saved to %s (%d bytes)", b.RawFile(), len(data))
	return nil
}

// sumoBin locates a binary under the SUMO install.
func (b *Builder) sumoBin(name string) (string, error) {
	if b.cfg.SumoHome == "" {
		return "", fmt.Errorf("SUMO_HOME is not set; install SUMO and export SUMO_HOME")
	}
	return filepath.Join(b.cfg.SumoHome, "bin", name), nil
}

// BuildNetwork compiles the raw extract into the drivable road graph.
// Geometry is simplified and traffic lights are guessed at major
// junctions, matching the network the signal controller was tuned on.
func (b *Builder) BuildNetwork() error {
	netconvert, err := b.sumoBin("netconvert")
	if err != nil {
		return err
	}

	monitoring.Logf("osm: compiling road network with netconvert")
	out, err := b.runner.Run(netconvert,
		"--osm-files", b.RawFile(),
		"--output-file", b.NetFile(),
		"--geometry.remove", "true",
		"--roundabouts.guess", "true",
		"--ramps.guess", "true",
		"--junctions.join", "true",
		"--tls.guess", "true",
		"--tls.join", "true",
		"--verbose", "false",
	)
	if err != nil {
		return fmt.Errorf("netconvert failed: %v\n%s", err, strings.TrimSpace(string(out)))
	}
	monitoring.Logf("osm: road network written to %s", b.NetFile())
	return nil
}

// BuildScenery extracts building footprints with polyconvert. The
// simulation runs without them, so callers may treat a failure here as
// a warning.
func (b *Builder) BuildScenery() error {
	polyconvert, err := b.sumoBin("polyconvert")
	if err != nil {
		return err
	}
	typemap := filepath.Join(b.cfg.SumoHome, "data", "typemap", "osmPolyconvert.typ.xml")

	monitoring.Logf("osm: extracting building polygons with polyconvert")
	out, err := b.runner.Run(polyconvert,
		"--osm-files", b.RawFile(),
		"--net-file", b.NetFile(),
		"--output-file", b.PolyFile(),
		"--type-file", typemap,
	)
	if err != nil {
		return fmt.Errorf("polyconvert failed: %v\n%s", err, strings.TrimSpace(string(out)))
	}
	monitoring.Logf("osm: scenery written to %s", b.PolyFile())
	return nil
}

// GenerateTrips produces random traffic demand over the compiled
// network: passenger cars at one departure per second and buses once a
// minute.
func (b *Builder) GenerateTrips() error {
	if b.cfg.SumoHome == "" {
		return fmt.Errorf("SUMO_HOME is not set; install SUMO and export SUMO_HOME")
	}
	randomTrips := filepath.Join(b.cfg.SumoHome, "tools", "randomTrips.py")
	carFile, busFile := b.TripsFiles()
	steps := strconv.Itoa(b.cfg.TripSteps)

	monitoring.Logf("osm: generating traffic demand")
	out, err := b.runner.Run("python", randomTrips,
		"-n", b.NetFile(),
		"-o", carFile,
		"-e", steps,
		"-p", "1.0",
		"--validate",
	)
	if err != nil {
		return fmt.Errorf("passenger trip generation failed: %v\n%s", err, strings.TrimSpace(string(out)))
	}

	out, err = b.runner.Run("python", randomTrips,
		"-n", b.NetFile(),
		"-o", busFile,
		"-e", steps,
		"-p", "60.0",
		"--vehicle-class", "bus",
		"--prefix", "bus",
		"--validate",
	)
	if err != nil {
		return fmt.Errorf("bus trip generation failed: %v\n%s", err, strings.TrimSpace(string(out)))
	}
	monitoring.Logf("osm: demand written to %s and %s", carFile, busFile)
	return nil
}

// Build runs the full pipeline: download, road network, scenery,
// demand. A scenery failure is logged and skipped; everything else is
// fatal.
func (b *Builder) Build(ctx context.Context, withTrips bool) error {
	if err := b.Download(ctx); err != nil {
		return err
	}
	if err := b.BuildNetwork(); err != nil {
		return err
	}
	if err := b.BuildScenery(); err != nil {
		monitoring.Logf("osm: scenery skipped: %v", err)
	}
	if withTrips {
		if err := b.GenerateTrips(); err != nil {
			return err
		}
	}
	return nil
}
