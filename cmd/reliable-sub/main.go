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

// Command reliable-sub declares a reliable Subscriber on a key expression
// and prints every sample it delivers, merging the live stream with
// startup backfill (--history) and periodic gap repair (--period).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcentrix/nbreliable/audit"
	nbconfig "github.com/arcentrix/nbreliable/config"
	"github.com/arcentrix/nbreliable/metrics"
	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/reliable"
	"github.com/arcentrix/nbreliable/substrate"
	"github.com/arcentrix/nbreliable/substrate/kafkabus"
	"github.com/arcentrix/nbreliable/substrate/localbus"
	"github.com/arcentrix/nbreliable/substrate/rocketmqbus"
)

var (
	flagKey        string
	flagHistory    bool
	flagPeriod     time.Duration
	flagBackend    string
	flagConfigFile string
)

var rootCmd = &cobra.Command{
	Use:   "reliable-sub",
	Short: "declare a Reliable Subscriber and print delivered samples",
	Long:  "reliable-sub declares a non-blocking fault-tolerant Reliable Subscriber on a key expression and prints every sample it delivers, merging the live stream with gap-repair queries.",
	RunE:  runSub,
}

func init() {
	rootCmd.Flags().StringVarP(&flagKey, "key", "k", "demo/example/**", "the key expression to subscribe onto")
	rootCmd.Flags().BoolVarP(&flagHistory, "history", "H", false, "query for historical samples at startup")
	rootCmd.Flags().DurationVarP(&flagPeriod, "period", "p", 0, "query for missing samples periodically with this period")
	rootCmd.Flags().StringVarP(&flagBackend, "backend", "b", "", "substrate backend: local, kafka, or rocketmq (overrides config file)")
	rootCmd.Flags().StringVarP(&flagConfigFile, "config", "c", "", "path to a YAML config file")
}

func runSub(cmd *cobra.Command, args []string) error {
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

	opts := []reliable.SubscriberOption{
		reliable.WithHistoryBackfill(flagHistory),
		reliable.WithRepairAttempts(cfg.Subscriber.RepairAttempts),
		reliable.WithPendingLimit(cfg.Subscriber.PendingLimit),
	}
	if cfg.Subscriber.RepairTimeout > 0 {
		opts = append(opts, reliable.WithRepairTimeout(cfg.Subscriber.RepairTimeout))
	}
	if flagPeriod > 0 {
		opts = append(opts, reliable.WithPeriodicQueries(flagPeriod))
	} else if cfg.Subscriber.Period > 0 {
		opts = append(opts, reliable.WithPeriodicQueries(cfg.Subscriber.Period))
	}

	sub, err := reliable.NewSubscriber(ctx, sess, flagKey, opts...)
	if err != nil {
		return fmt.Errorf("declare subscriber: %w", err)
	}
	defer func() { _ = sub.Close(context.Background()) }()

	if cfg.Audit.DSN != "" {
		db, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		sink, err := audit.NewSink(db, cfg.Audit.Table)
		if err != nil {
			return fmt.Errorf("create audit sink: %w", err)
		}
		if err := sink.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate audit table: %w", err)
		}
		sub.SetAuditSink(sink)
		logger.Infow("audit sink attached", "driver", cfg.Audit.Driver, "table", cfg.Audit.Table)
	}

	logger.Infow("reliable subscriber declared", "key_expr", flagKey, "backend", cfg.Backend)
	fmt.Printf("Declaring Reliable Subscriber on %s, press Ctrl+C to quit...\n", flagKey)

	go func() {
		for diag := range sub.Diagnostics() {
			fmt.Printf(">> [diagnostic] %s key=%s source=%s sn=[%d,%d]\n",
				diag.Kind, diag.KeyExpr, diag.SourceID, diag.SNLo, diag.SNHi)
		}
	}()

	for {
		sample, err := sub.Recv(ctx)
		if err != nil {
			return nil
		}
		fmt.Printf(">> [Subscriber] Received %v ('%s' #%d from %s)\n",
			sample.Kind, sample.KeyExpr, sample.SourceSN, sample.SourceID)
	}
}

func openSession(cfg nbconfig.AppConfig) (substrate.Session, error) {
	switch cfg.Backend {
	case "", "local":
		return localbus.New(256), nil
	case "kafka":
		return kafkabus.New(cfg.Kafka.BootstrapServers, "reliable-sub", cfg.KafkaProducerOptions()...)
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
