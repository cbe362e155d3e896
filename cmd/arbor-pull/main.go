package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/arborfs/pull/metalink"
	"github.com/arborfs/pull/progress"
	"github.com/arborfs/pull/pull"
	"github.com/arborfs/pull/store"
	"github.com/arborfs/pull/transport"
)

func main() {

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	var (
		flagIndex      string
		flagLog        string
		flagRemote     string
		flagSubdir     string
		flagDepth      int
		flagMirror     bool
		flagCommitOnly bool
		flagMetalink   string
		flagVerifySum  bool
		flagTmp        string
		flagMetaConc   int
		flagContentConc int
	)

	pflag.StringVarP(&flagIndex, "index", "i", "index", "database directory for the object store")
	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagRemote, "remote", "r", "", "base URL of the remote repository")
	pflag.StringVarP(&flagSubdir, "subdir", "s", "", "restrict the pull to this subdirectory")
	pflag.IntVarP(&flagDepth, "depth", "d", 0, "number of parent commits to pull, -1 for unbounded")
	pflag.BoolVarP(&flagMirror, "mirror", "m", false, "mirror every ref advertised by the remote's summary")
	pflag.BoolVar(&flagCommitOnly, "commit-only", false, "fetch the commit object only, skip the content graph")
	pflag.StringVar(&flagMetalink, "metalink", "", "metalink URL to resolve the remote base URL from")
	pflag.BoolVar(&flagVerifySum, "verify-summary", false, "require and verify the remote's signed summary")
	pflag.StringVar(&flagTmp, "tmp", "", "scratch directory for in-flight fetches, defaults to <index>/tmp")
	pflag.IntVar(&flagMetaConc, "meta-concurrency", 4, "concurrent metadata fetches")
	pflag.IntVar(&flagContentConc, "content-concurrency", 16, "concurrent content fetches")

	pflag.Parse()
	refs := pflag.Args()

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	level, err := zerolog.ParseLevel(flagLog)
	if err != nil {
		log.Fatal().Err(err).Msg("could not parse log level")
	}
	log = log.Level(level)

	if flagTmp == "" {
		flagTmp = flagIndex + "/tmp"
	}

	db, err := badger.Open(badger.DefaultOptions(flagIndex))
	if err != nil {
		log.Fatal().Err(err).Msg("could not open index database")
	}
	defer db.Close()

	st, err := store.Open(log, db)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open object store")
	}

	newFetcher := func(base *url.URL) transport.Fetcher {
		return transport.NewHTTPFetcher(log, http.DefaultClient, flagTmp, flagMetaConc, flagContentConc)
	}

	driver, err := pull.New(log, st, newFetcher)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize pull driver")
	}
	if flagMetalink != "" {
		metalinkFetcher := transport.NewHTTPFetcher(log, http.DefaultClient, flagTmp, 1, 1)
		defer metalinkFetcher.Close()
		driver = driver.WithMetalink(metalink.NewXMLResolver(metalinkFetcher))
	}

	registry := prometheus.NewRegistry()
	reporter := progress.New(log, registry, driver, time.Second)
	driver.AttachProgress(reporter)

	opts := pull.Options{
		Refs:          refs,
		BaseURL:       flagRemote,
		Subdir:        flagSubdir,
		Depth:         flagDepth,
		Mirror:        flagMirror,
		CommitOnly:    flagCommitOnly,
		Metalink:      flagMetalink,
		VerifySummary: flagVerifySum,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sig
		log.Info().Msg("arbor-pull stopping")
		cancel()
	}()

	start := time.Now()
	log.Info().Time("start", start).Msg("arbor-pull starting")
	err = driver.Run(ctx, opts, flagTmp)
	finish := time.Now()
	if err != nil {
		log.Fatal().Err(err).Str("duration", finish.Sub(start).Round(time.Millisecond).String()).Msg("pull failed")
	}
	log.Info().Time("finish", finish).Str("duration", finish.Sub(start).Round(time.Millisecond).String()).Msg("arbor-pull done")
}
