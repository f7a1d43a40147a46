package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/config"
	"github.com/probematter/emergence-loop/internal/controller"
	"github.com/probematter/emergence-loop/internal/embed"
	"github.com/probematter/emergence-loop/internal/framelog"
	"github.com/probematter/emergence-loop/internal/guard"
	"github.com/probematter/emergence-loop/internal/producer"
	"github.com/probematter/emergence-loop/internal/review"
	"github.com/probematter/emergence-loop/internal/signals"
)

// #region main
func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := framelog.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open frame log: %v", err)
	}
	defer store.Close()

	embedder := buildEmbedder(cfg)
	if embedder != nil {
		store.SetEmbedder(embedder)
	}

	honeypots, err := guard.NewHoneypotSystem(store.DB(), guard.DefaultConfig().HoneypotFactor)
	if err != nil {
		log.Fatalf("honeypot system: %v", err)
	}
	reviewQueue, err := review.NewQueue(store.DB())
	if err != nil {
		log.Fatalf("review queue: %v", err)
	}

	extractor := signals.NewExtractor(store)
	arb := arbiter.New(store, extractor, nil, cfg.ArbiterConfig())
	g := guard.New(store, embedder, honeypots, reviewQueue, cfg.GuardConfig())

	prod, err := producer.NewGRPCProducer(cfg.ProducerAddr)
	if err != nil {
		log.Fatalf("connect producer at %s: %v", cfg.ProducerAddr, err)
	}
	defer prod.Close()

	var sink controller.CheckpointSink
	if cfg.CheckpointDir != "" {
		fs, err := controller.NewFileSink(cfg.CheckpointDir)
		if err != nil {
			log.Fatalf("checkpoint sink: %v", err)
		}
		sink = fs
	}

	loop := controller.New(store, extractor, arb, g, prod, sink, cfg.LoopConfig(), cfg.LoopBudget())
	defer loop.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Emergence loop starting.\n  DB: %s | Producer: %s\n", cfg.DBPath, cfg.ProducerAddr)

	final := loop.Run(ctx)
	budget := loop.Budget()
	fmt.Printf("Loop stopped: %s (iterations=%d cost=%.2fUSD elapsed=%.0fs)\n",
		final, budget.IterationsUsed, budget.CostUsedUSD, budget.SecondsElapsed)

	if final == controller.StateStoppedError {
		os.Exit(1)
	}
}

// #endregion main

// #region embedder
func buildEmbedder(cfg *config.File) guard.Embedder {
	switch cfg.Embedding.Provider {
	case "none":
		return nil
	case "local":
		return embed.NewDeterministic(0)
	default:
		if cfg.Embedding.APIKey == "" {
			log.Println("[MAIN] no embedding API key, embedding checks will degrade")
			return nil
		}
		return embed.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	}
}

// #endregion embedder
