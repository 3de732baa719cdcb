package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dbnflow/config"
	"dbnflow/dbn"
	"dbnflow/internal/symbols"
	"dbnflow/logger"
	"dbnflow/stats"
	"dbnflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	sessionsPath := flag.String("sessions", "", "Path to multi-session configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	apiKey := os.Getenv("DATABENTO_API_KEY")
	if apiKey == "" {
		log.Error("DATABENTO_API_KEY is not set")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Dbnflow.Name,
		"version": cfg.Dbnflow.Version,
	}).Info("starting dbnstats")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}
	logger.StartReport(ctx, log, cfg.Client.ReportInterval)

	// Partition symbols across sessions: one session per entry of the
	// sessions file, or a single session carrying the main subscription.
	var sessionSymbols [][]string
	if *sessionsPath != "" {
		sessionsCfg, err := config.LoadSessions(*sessionsPath)
		if err != nil {
			log.WithError(err).Error("failed to load session configuration")
			os.Exit(1)
		}
		for _, s := range sessionsCfg.Sessions {
			syms, err := symbols.LoadFiles(s.SymbolFiles)
			if err != nil {
				log.WithError(err).Error("failed to load symbol files")
				os.Exit(1)
			}
			sessionSymbols = append(sessionSymbols, append(s.Symbols, syms...))
		}
	}
	if len(sessionSymbols) == 0 {
		syms, err := symbols.LoadFiles(cfg.Subscription.SymbolFiles)
		if err != nil {
			log.WithError(err).Error("failed to load symbol files")
			os.Exit(1)
		}
		sessionSymbols = [][]string{append(cfg.Subscription.Symbols, syms...)}
	}

	collector := stats.New()

	multi := dbn.NewMulti(
		func(m *dbn.Multi, fatal bool, msg string) {
			if fatal {
				log.WithComponent("session").Error(msg)
				cancel()
			} else {
				log.WithComponent("session").Warn(msg)
			}
		},
		func(m *dbn.Multi, rec dbn.Record) {
			collector.Observe(rec, stats.Nanotime())
		},
	)
	multi.BufferCapacity = cfg.Client.BufferCapacity

	tsConnectStart := stats.Nanotime()

	for i, syms := range sessionSymbols {
		if err := multi.ConnectAndStart(
			ctx,
			apiKey,
			cfg.Subscription.Dataset,
			cfg.Subscription.TsOut,
			cfg.Subscription.Schema,
			cfg.Subscription.Symbology,
			syms,
			cfg.Subscription.Suffix,
			cfg.Subscription.Replay,
		); err != nil {
			log.WithError(err).WithFields(logger.Fields{"session": i}).Error("failed to start session")
			multi.CloseAll()
			os.Exit(1)
		}
	}

	// Wait for every session to finish its subscribe phase.
	for !multi.IsFullySubscribed() {
		select {
		case <-ctx.Done():
			log.Error("shutdown before all sessions subscribed")
			multi.CloseAll()
			os.Exit(1)
		case <-time.After(100 * time.Millisecond):
		}
	}

	tsSubscribed := stats.Nanotime()
	log.WithFields(logger.Fields{
		"sessions":       multi.NumSessions(),
		"subscribe_time": fmtDuration(tsSubscribed - tsConnectStart),
	}).Info("all sessions subscribed")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()
	multi.CloseAll()

	tsRunEnd := stats.Nanotime()
	printSummary(collector, tsRunEnd, cfg.Subscription.Replay)

	if cfg.Stats.Enabled {
		statsWriter, err := writer.NewStatsWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create stats writer")
			os.Exit(1)
		}
		if _, err := statsWriter.Write(context.Background(), collector.Samples()); err != nil {
			log.WithError(err).Error("failed to archive latency samples")
			os.Exit(1)
		}
	}

	log.Info("dbnstats stopped")
}

func printSummary(c *stats.Collector, tsRunEnd uint64, replay bool) {
	smapFirst, smapLast := c.SmapSpan()

	fmt.Println("Message counts:")
	fmt.Printf("  emsg:  %d\n", c.NumEmsg.Load())
	fmt.Printf("  smsg:  %d\n", c.NumSmsg.Load())
	fmt.Printf("  smap:  %d\n", c.NumSmap.Load())
	fmt.Printf("  sdef:  %d\n", c.NumSdef.Load())
	fmt.Printf("  cmbp1: %d\n", c.NumCmbp1.Load())
	fmt.Printf("  bbo:   %d\n", c.NumBbo.Load())

	if smapLast > smapFirst {
		fmt.Println("Message rates:")
		fmt.Printf("  smap:  %s\n", fmtRate(c.NumSmap.Load(), smapLast-smapFirst))
		if tsRunEnd > smapLast {
			fmt.Printf("  cmbp1: %s\n", fmtRate(c.NumCmbp1.Load(), tsRunEnd-smapLast))
			fmt.Printf("  bbo:   %s\n", fmtRate(c.NumBbo.Load(), tsRunEnd-smapLast))
		}
	}

	l := c.Summarize()
	if l.Samples == 0 {
		return
	}

	fmt.Println("Latencies:")
	if replay {
		fmt.Println("  ts_event -> ts_recv:  n/a (intra-day replay)")
		fmt.Println("  ts_event -> ts_out:   n/a (intra-day replay)")
		fmt.Println("  ts_recv  -> ts_out:   n/a (intra-day replay)")
	} else {
		fmt.Printf("  ts_event -> ts_recv:  %s\n", fmtDuration(uint64(l.EventToRecv)))
		fmt.Printf("  ts_event -> ts_out:   %s\n", fmtDuration(uint64(l.EventToOut)))
		fmt.Printf("  ts_recv  -> ts_out:   %s\n", fmtDuration(uint64(l.RecvToOut)))
	}
	fmt.Printf("  ts_out   -> ts_local: %s\n", fmtDuration(uint64(l.OutToLocal)))
	if !replay {
		fmt.Printf("  ts_event -> ts_local: %s\n", fmtDuration(uint64(l.EventToLocal)))
		fmt.Printf("  ts_recv  -> ts_local: %s\n", fmtDuration(uint64(l.RecvToLocal)))
	}
}

// fmtDuration renders nanoseconds with friendly units.
func fmtDuration(ns uint64) string {
	switch {
	case ns < 1000:
		return fmt.Sprintf("%d ns", ns)
	case ns < 1000000:
		return fmt.Sprintf("%.3f us", float64(ns)/1000)
	case ns < 1000000000:
		return fmt.Sprintf("%.3f ms", float64(ns)/1000000)
	case ns < 60000000000:
		return fmt.Sprintf("%.3f s", float64(ns)/1000000000)
	default:
		return fmt.Sprintf("%.3f m", float64(ns)/60000000000)
	}
}

// fmtRate renders messages per second with friendly units.
func fmtRate(count, ns uint64) string {
	perSec := float64(count) * 1e9 / float64(ns)
	switch {
	case perSec > 1e6:
		return fmt.Sprintf("%.3f million messages per second", perSec/1e6)
	case perSec > 1e3:
		return fmt.Sprintf("%.3f thousand messages per second", perSec/1e3)
	default:
		return fmt.Sprintf("%.3f messages per second", perSec)
	}
}
