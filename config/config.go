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

// Package config loads this repository's AppConfig from a YAML file and
// keeps it current with viper's fsnotify-driven hot reload.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/arcentrix/nbreliable/pkg/env"
	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/pkg/mq/kafka"
	"github.com/arcentrix/nbreliable/pkg/mq/rocketmq"
)

// CacheConfig holds the reliable.Cache section. cmd/reliable-pub reads
// RingBackend to choose the ring backend; it takes the history capacity
// from its --history flag, and History and ResourcesLimit are not passed
// to the Cache. The journal is configured by JournalConfig.
type CacheConfig struct {
	History        int    `mapstructure:"history"`
	ResourcesLimit int    `mapstructure:"resourcesLimit"`
	RingBackend    string `mapstructure:"ringBackend"` // "memory" or "redis"
}

// SubscriberConfig configures a reliable.Subscriber.
type SubscriberConfig struct {
	History        bool          `mapstructure:"history"`
	Period         time.Duration `mapstructure:"period"`
	RepairAttempts int           `mapstructure:"repairAttempts"`
	RepairTimeout  time.Duration `mapstructure:"repairTimeout"`
	PendingLimit   int           `mapstructure:"pendingLimit"`
}

// RedisConfig configures the optional redisring backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuditConfig configures the optional GORM-backed permanent-loss sink.
type AuditConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "mysql"
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// JournalConfig configures the optional on-disk overflow journal.
type JournalConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Dir               string        `mapstructure:"dir"`
	SegmentMaxRecords int           `mapstructure:"segmentMaxRecords"`
	FsyncInterval     time.Duration `mapstructure:"fsyncInterval"`
}

// MetricsConfig configures the /metrics HTTP endpoint (package metrics).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AppConfig is the root configuration for both cmd/reliable-pub and
// cmd/reliable-sub, one flat section per concern.
type AppConfig struct {
	Log        logger.Conf           `mapstructure:"log"`
	Cache      CacheConfig           `mapstructure:"cache"`
	Subscriber SubscriberConfig      `mapstructure:"subscriber"`
	Kafka      kafka.Config          `mapstructure:"kafka"`
	RocketMQ   rocketmq.ClientConfig `mapstructure:"rocketmq"`
	Redis      RedisConfig           `mapstructure:"redis"`
	Audit      AuditConfig           `mapstructure:"audit"`
	Journal    JournalConfig         `mapstructure:"journal"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
	Backend    string                `mapstructure:"backend"` // "local", "kafka", "rocketmq"
	Key        string                `mapstructure:"key"`     // the key expression to publish/subscribe on
}

// SetDefaults fills in AppConfig's zero-value fields the way
// reliable.defaultCacheConfig / defaultSubscriberConfig do for their
// options, plus this package's own ambient defaults.
func (c *AppConfig) SetDefaults() {
	if c.Log.Output == "" {
		c.Log = *logger.SetDefaults()
	}
	if c.Cache.History == 0 {
		c.Cache.History = env.GetEnvInt("NBRELIABLE_CACHE_HISTORY", 1024)
	}
	if c.Cache.RingBackend == "" {
		c.Cache.RingBackend = env.GetEnvString("NBRELIABLE_RING_BACKEND", "memory")
	}
	if c.Subscriber.RepairAttempts == 0 {
		c.Subscriber.RepairAttempts = 3
	}
	// RepairTimeout deliberately keeps no default here: zero lets the
	// subscriber derive it from its period (3 ticks) instead of pinning a
	// flat value over that.
	if c.Subscriber.PendingLimit == 0 {
		c.Subscriber.PendingLimit = 65536
	}
	if c.Subscriber.Period == 0 {
		c.Subscriber.Period = env.GetEnvDuration("NBRELIABLE_SUBSCRIBER_PERIOD", 5*time.Second)
	}
	if c.Backend == "" {
		c.Backend = env.GetEnvString("NBRELIABLE_BACKEND", "local")
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite"
	}
	if c.Audit.Table == "" {
		c.Audit.Table = "permanent_loss_records"
	}
	if c.Journal.SegmentMaxRecords == 0 {
		c.Journal.SegmentMaxRecords = 4096
	}
	if c.Journal.FsyncInterval == 0 {
		c.Journal.FsyncInterval = time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// KafkaProducerOptions translates the Kafka section into the
// kafka.ProducerOption values kafkabus.New expects, so the SASL/SSL/Acks/
// Retries/Compression knobs operators set in the config file actually
// reach the wire client instead of only ever taking NewProducer's
// hardcoded defaults.
func (c AppConfig) KafkaProducerOptions() []kafka.ProducerOption {
	var clientOpts []kafka.ClientOption
	if c.Kafka.SecurityProtocol != "" {
		clientOpts = append(clientOpts, kafka.WithSecurityProtocol(c.Kafka.SecurityProtocol))
	}
	if c.Kafka.Sasl.Mechanism != "" {
		clientOpts = append(clientOpts, kafka.WithSaslMechanism(c.Kafka.Sasl.Mechanism))
	}
	if c.Kafka.Sasl.Username != "" {
		clientOpts = append(clientOpts, kafka.WithSaslUsername(c.Kafka.Sasl.Username))
	}
	if c.Kafka.Sasl.Password != "" {
		clientOpts = append(clientOpts, kafka.WithSaslPassword(c.Kafka.Sasl.Password))
	}
	if c.Kafka.Ssl.CaFile != "" {
		clientOpts = append(clientOpts, kafka.WithSslCaFile(c.Kafka.Ssl.CaFile))
	}
	if c.Kafka.Ssl.CertFile != "" {
		clientOpts = append(clientOpts, kafka.WithSslCertFile(c.Kafka.Ssl.CertFile))
	}
	if c.Kafka.Ssl.KeyFile != "" {
		clientOpts = append(clientOpts, kafka.WithSslKeyFile(c.Kafka.Ssl.KeyFile))
	}
	if c.Kafka.Ssl.Password != "" {
		clientOpts = append(clientOpts, kafka.WithSslPassword(c.Kafka.Ssl.Password))
	}

	var opts []kafka.ProducerOption
	if len(clientOpts) > 0 {
		opts = append(opts, kafka.WithProducerClientOptions(clientOpts...))
	}
	if c.Kafka.Acks != "" {
		opts = append(opts, kafka.WithProducerAcks(c.Kafka.Acks))
	}
	if c.Kafka.Retries != 0 {
		opts = append(opts, kafka.WithProducerRetries(c.Kafka.Retries))
	}
	if c.Kafka.Compression != "" {
		opts = append(opts, kafka.WithProducerCompression(c.Kafka.Compression))
	}
	return opts
}

// RocketMQProducerOptions translates the RocketMQ section into the
// rocketmq.ProducerOption values rocketmqbus.New expects, the same
// config-to-wire-client wiring KafkaProducerOptions does for Kafka.
func (c AppConfig) RocketMQProducerOptions() []rocketmq.ProducerOption {
	var clientOpts []rocketmq.ClientOption
	if c.RocketMQ.Credentials != nil {
		clientOpts = append(clientOpts, rocketmq.WithCredentials(c.RocketMQ.Credentials))
	} else if c.RocketMQ.AccessKey != "" || c.RocketMQ.SecretKey != "" {
		clientOpts = append(clientOpts, rocketmq.WithAccessKey(c.RocketMQ.AccessKey), rocketmq.WithSecretKey(c.RocketMQ.SecretKey))
	}

	var opts []rocketmq.ProducerOption
	if len(clientOpts) > 0 {
		opts = append(opts, rocketmq.WithProducerClientOptions(clientOpts...))
	}
	return opts
}

var (
	cfg  AppConfig
	mu   sync.RWMutex
	once sync.Once
)

// Load reads path once per process and starts watching it for changes.
// Concurrent callers within the same process share the same watched
// configuration.
func Load(path string) (*AppConfig, error) {
	var loadErr error
	once.Do(func() {
		loadErr = loadInto(path, &cfg)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	mu.RLock()
	defer mu.RUnlock()
	out := cfg
	return &out, nil
}

// Get returns the most recently loaded configuration, reflecting any
// hot-reload that has landed since Load was first called.
func Get() AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

func loadInto(path string, out *AppConfig) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Infow("configuration file changed, reloading", "file", e.Name)
		mu.Lock()
		defer mu.Unlock()
		var next AppConfig
		if err := v.Unmarshal(&next); err != nil {
			logger.Errorw("failed to unmarshal reloaded config", "error", err, "file", e.Name)
			return
		}
		next.SetDefaults()
		cfg = next
		logger.Infow("configuration reloaded", "file", e.Name)
	})

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config file: %w", err)
	}
	out.SetDefaults()
	logger.Infow("config file loaded", "path", path)
	return nil
}
