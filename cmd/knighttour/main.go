// Command knighttour searches for closed knight's tours in parallel and
// appends every one it finds to a result file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	knighttour "github.com/sandeepkv93/parallelknighttour"
	"github.com/sandeepkv93/parallelknighttour/tourstream"
)

func main() {
	var (
		width    = flag.Int("width", 6, "board width")
		height   = flag.Int("height", 6, "board height (width*height should be even)")
		starts   = flag.Int("starts", 5, "number of start positions to attempt")
		patterns = flag.Int("patterns", 4, "shuffled move patterns per start")
		budget   = flag.Uint64("budget", 200_000_000, "per-attempt move evaluation budget")
		swaps    = flag.Int("swaps", 10, "pairwise swaps per pattern shuffle")
		workers  = flag.Int("workers", 0, "max concurrent attempts (0 = all CPUs)")
		seed     = flag.Int64("seed", 0, "master seed (0 = time-based)")
		out      = flag.String("out", "ClosedTour.txt", "closed tour output file")
		compress = flag.Bool("compress", false, "zstd-compress the output file")
		stream   = flag.String("stream", "", "address for live tour events over websocket, e.g. :8080")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config := knighttour.Config{
		Width:        *width,
		Height:       *height,
		NumStarts:    *starts,
		NumPatterns:  *patterns,
		MaxMoves:     *budget,
		ShuffleSwaps: *swaps,
		MaxWorkers:   *workers,
		MasterSeed:   *seed,
		Logger:       logger,
	}

	var streamServer *tourstream.Server
	if *stream != "" {
		streamServer = tourstream.NewServer(logger)
		config.OnTour = streamServer.TourHandler()
	}

	searcher := knighttour.NewParallelTourSearcher(config)

	// Startup checks run before the sink is opened so a misconfigured run
	// leaves no output file behind.
	if err := searcher.Validate(); err != nil {
		if errors.Is(err, knighttour.ErrBudgetTooLarge) {
			fmt.Println("error: the move budget exceeds the number of possible move sequences, exiting")
			return
		}
		fmt.Printf("error: invalid configuration: %v\n", err)
		return
	}

	sink, closeSink, err := openSink(*out, *compress)
	if err != nil {
		fmt.Printf("error: result sink unavailable: %v\n", err)
		return
	}

	if streamServer != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", streamServer)
		go func() {
			if err := http.ListenAndServe(*stream, mux); err != nil {
				logger.Error("stream server stopped", "error", err)
			}
		}()
		defer streamServer.Close()
	}

	stats, err := searcher.Search(context.Background(), sink)
	if cerr := closeSink(); cerr != nil {
		logger.Error("closing result sink", "error", cerr)
	}
	if err != nil {
		fmt.Printf("error: search failed: %v\n", err)
		return
	}

	fmt.Printf("found %d tours in total: %d closed, %d opened\n",
		stats.ToursFound, stats.ClosedTours, stats.OpenTours)
	fmt.Println("note: tours reached via different search paths are counted each time")
}

func openSink(path string, compress bool) (knighttour.TourSink, func() error, error) {
	if compress {
		sink, err := knighttour.NewCompressedFileSink(path, 3)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	}
	sink, err := knighttour.NewFileTourSink(path)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}
