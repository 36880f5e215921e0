package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ignite/campaign-engine/internal/blob"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/contacts"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/store"
	"github.com/ignite/campaign-engine/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("[Worker] Loading config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.Profile != "" {
		awsOpts = append(awsOpts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		log.Fatalf("[Worker] Loading AWS config: %v", err)
	}

	provider, err := worker.NewSESProvider(ctx, cfg.SES)
	if err != nil {
		log.Fatalf("[Worker] Initializing mail provider: %v", err)
	}

	var dir *contacts.Directory
	if cfg.Contacts.DatabaseURL != "" {
		dir, err = contacts.Open(cfg.Contacts.DatabaseURL)
		if err != nil {
			log.Printf("[Worker] Contact directory unavailable, personalization degrades: %v", err)
			dir = nil
		} else {
			defer dir.Close()
		}
	}

	sink, err := metrics.NewSink(cfg.Metrics.RedisURL)
	if err != nil {
		log.Printf("[Worker] Metrics sink unavailable: %v", err)
	}
	defer sink.Close()

	dispatcher := worker.NewDispatcher(
		store.NewDynamoStore(awsCfg, cfg.Store.DynamoDBTable, cfg.Store.Timeout()),
		blob.NewS3Store(awsCfg, cfg.Blob.S3Bucket),
		provider,
		dir,
		worker.NewRateGovernor(cfg.Governor),
		sink,
		cfg.Worker.BudgetReserve(),
	)

	q := queue.NewSQSQueue(awsCfg, cfg.Queue.URL)
	q.WaitTime = time.Duration(cfg.Queue.WaitTimeSeconds) * time.Second

	runner := worker.NewRunner(q, dispatcher, cfg.Queue, cfg.Worker)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("[Worker] Shutdown requested")
		cancel()
	}()

	runner.Run(ctx)
}
