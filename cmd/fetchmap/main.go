// Command fetchmap builds the corridor's simulation network: it
// downloads the OpenStreetMap extract for the configured bounding box
// and compiles it into a drivable road graph with the SUMO toolchain.
// SUMO_HOME must point at a SUMO install for the compile steps.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/corridor.twin/internal/osm"
)

func main() {
	bbox := flag.String("bbox", osm.DefaultBBox, "Bounding box to download (minLon,minLat,maxLon,maxLat)")
	outDir := flag.String("out", "network", "Output directory for the extract and compiled network")
	sumoHome := flag.String("sumo-home", "", "SUMO install root (default: $SUMO_HOME)")
	apiBase := flag.String("api", osm.DefaultAPIBase, "OpenStreetMap API base URL")
	withTrips := flag.Bool("trips", false, "Also generate random traffic demand with randomTrips.py")
	tripSteps := flag.Int("trip-steps", 3600, "Demand horizon in steps for -trips")
	downloadOnly := flag.Bool("download-only", false, "Fetch the raw extract and skip the SUMO compile")
	flag.Parse()

	builder, err := osm.NewBuilder(osm.Config{
		BBox:      *bbox,
		OutputDir: *outDir,
		SumoHome:  *sumoHome,
		APIBase:   *apiBase,
		TripSteps: *tripSteps,
	}, nil, nil, nil)
	if err != nil {
		log.Fatalf("Invalid map configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *downloadOnly {
		if err := builder.Download(ctx); err != nil {
			log.Fatalf("Map download failed: %v", err)
		}
		log.Printf("Raw extract ready at %s", builder.RawFile())
		return
	}

	if err := builder.Build(ctx, *withTrips); err != nil {
		log.Fatalf("Network build failed: %v", err)
	}

	log.Printf("Digital twin network ready at %s", builder.NetFile())
	log.Printf("Launch the simulation against it, or rerun with -trips for demand files")
}
