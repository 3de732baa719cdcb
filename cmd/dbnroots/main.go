package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"dbnflow/dbn"
	"dbnflow/logger"
	"dbnflow/opra"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	outputPath := flag.String("output", "", "Write roots to file instead of stdout")
	flag.Parse()

	apiKey := os.Getenv("DATABENTO_API_KEY")
	if apiKey == "" {
		log.Error("DATABENTO_API_KEY is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	// Collect roots from symbol mapping records; a definition replay emits
	// one mapping per option contract, so roots repeat heavily and the
	// catalog deduplicates.
	catalog := &opra.RootCatalog{}
	var numOptions atomic.Uint64
	var replayDone atomic.Bool
	progress := rate.NewLimiter(rate.Every(time.Second), 1)

	client := dbn.NewClient(
		func(c *dbn.Client, fatal bool, msg string) {
			if fatal {
				log.WithComponent("session").Error(msg)
			} else {
				log.WithComponent("session").Warn(msg)
			}
		},
		func(c *dbn.Client, rec dbn.Record) {
			switch {
			case rec.RType == dbn.RTypeSmap:
				sm, ok := rec.SymbolMapping()
				if !ok {
					return
				}
				osi, ok := opra.ParseOSI(sm.STypeOutSymbol)
				if !ok {
					return // not an option contract
				}
				catalog.Add(osi.Root)
				numOptions.Add(1)
				if progress.Allow() {
					log.WithComponent("dbnroots").WithFields(logger.Fields{
						"roots":   catalog.Len(),
						"options": numOptions.Load(),
					}).Info("collecting roots")
				}
			case rec.RType == dbn.RTypeSmsg:
				sm, ok := rec.SystemMessage()
				if ok && sm.Msg == "Finished definition replay" {
					replayDone.Store(true)
				}
			case rec.RType == dbn.RTypeEmsg:
				em, ok := rec.ErrorMessage()
				if ok {
					log.WithComponent("session").WithFields(logger.Fields{"server_error": em.Msg}).Error("server error")
				}
			}
		},
	)

	log.Info("connecting to Databento")
	if err := client.Connect(ctx, apiKey, "OPRA.PILLAR", false); err != nil {
		os.Exit(1)
	}

	log.Info("subscribing to ALL_SYMBOLS, definition schema, intra-day replay")
	if err := client.Start("definition", "parent", []string{"ALL_SYMBOLS"}, "", true); err != nil {
		client.Close()
		os.Exit(1)
	}

	// Interrupt a blocked receive when the signal context fires.
	go func() {
		<-ctx.Done()
		client.Interrupt()
	}()

	for ctx.Err() == nil && !replayDone.Load() {
		if _, err := client.Get(); err != nil {
			client.Close()
			os.Exit(1)
		}
	}

	client.Close()

	log.WithFields(logger.Fields{
		"roots":   catalog.Len(),
		"options": numOptions.Load(),
	}).Info("root collection finished")

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.OpenFile(*outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			log.WithError(err).Error("failed to open output file")
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	for _, root := range catalog.Roots() {
		w.WriteString(root)
		w.WriteString(".OPT\n")
	}
	if err := w.Flush(); err != nil {
		log.WithError(err).Error("failed to write roots")
		os.Exit(1)
	}
}
