// Copyright 2026 Arcentra Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command reliable-pub declares a Publisher with a reliability cache
// attached and periodically puts an incrementing payload under a key
// expression, so a reliable-sub on the same substrate has something to
// miss and recover.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	nbconfig "github.com/arcentrix/nbreliable/config"
	"github.com/arcentrix/nbreliable/journal"
	"github.com/arcentrix/nbreliable/metrics"
	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/redisring"
	"github.com/arcentrix/nbreliable/reliable"
	"github.com/arcentrix/nbreliable/substrate"
	"github.com/arcentrix/nbreliable/substrate/kafkabus"
	"github.com/arcentrix/nbreliable/substrate/localbus"
	"github.com/arcentrix/nbreliable/substrate/rocketmqbus"
)

var (
	flagKey        string
	flagHistory    int
	flagInterval   time.Duration
	flagBackend    string
	flagConfigFile string
)

var rootCmd = &cobra.Command{
	Use:   "reliable-pub",
	Short: "declare a Publisher with a Reliability Cache and put samples periodically",
	Long:  "reliable-pub declares a non-blocking fault-tolerant Publisher with an attached Reliability Cache and puts an incrementing payload under a key expression on a fixed interval.",
	RunE:  runPub,
}

func init() {
	rootCmd.Flags().StringVarP(&flagKey, "key", "k", "demo/example/reliable", "the key expression to publish onto")
	rootCmd.Flags().IntVarP(&flagHistory, "history", "H", reliable.DefaultHistory, "number of samples retained for gap repair")
	rootCmd.Flags().DurationVarP(&flagInterval, "interval", "i", time.Second, "interval between puts")
	rootCmd.Flags().StringVarP(&flagBackend, "backend", "b", "", "substrate backend: local, kafka, or rocketmq (overrides config file)")
	rootCmd.Flags().StringVarP(&flagConfigFile, "config", "c", "", "path to a YAML config file")
}

func runPub(cmd *cobra.Command, args []string) error {
	var cfg nbconfig.AppConfig
	if flagConfigFile != "" {
		loaded, err := nbconfig.Load(flagConfigFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	} else {
		cfg.SetDefaults()
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}

	if err := logger.Init(&cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				logger.Errorw("metrics server stopped", "error", err)
			}
		}()
	}

	sess, err := openSession(cfg)
	if err != nil {
		return fmt.Errorf("open substrate session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheOpts := []reliable.CacheOption{reliable.WithHistory(flagHistory)}
	if cfg.Journal.Enabled {
		j, err := journal.Open(&journal.Config{
			Dir:               cfg.Journal.Dir,
			Name:              flagKey,
			SegmentMaxRecords: cfg.Journal.SegmentMaxRecords,
			FsyncInterval:     cfg.Journal.FsyncInterval,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		cacheOpts = append(cacheOpts, reliable.WithJournal(j))
	}
	if cfg.Cache.RingBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		cacheOpts = append(cacheOpts, reliable.WithRingFactory(func(keyExpr string, capacity int) reliable.RingStore {
			return redisring.New(client, keyExpr, capacity)
		}))
	}

	pub, err := reliable.NewPublisher(ctx, sess, flagKey, cacheOpts...)
	if err != nil {
		return fmt.Errorf("declare publisher: %w", err)
	}
	defer func() { _ = pub.Close(context.Background()) }()

	logger.Infow("reliable publisher declared", "key_expr", flagKey, "source_id", pub.SourceID(), "backend", cfg.Backend)
	fmt.Printf("Declaring Publisher with Reliability Cache on %s, press Ctrl+C to quit...\n", flagKey)

	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	var counter uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload := fmt.Sprintf("[%4d] from %s", counter, pub.SourceID())
			if err := pub.Put(ctx, []byte(payload)); err != nil {
				logger.Warnw("put failed", "key_expr", flagKey, "error", err)
				continue
			}
			fmt.Printf("Putting Data ('%s': '%s')\n", flagKey, payload)
			counter++
		}
	}
}

func openSession(cfg nbconfig.AppConfig) (substrate.Session, error) {
	switch cfg.Backend {
	case "", "local":
		return localbus.New(256), nil
	case "kafka":
		return kafkabus.New(cfg.Kafka.BootstrapServers, "reliable-pub", cfg.KafkaProducerOptions()...)
	case "rocketmq":
		return rocketmqbus.New(cfg.RocketMQ.NameServers, cfg.RocketMQProducerOptions()...)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
