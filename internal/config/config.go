// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads and validates the service settings from the
// environment. Settings are read once at startup; the loaded snapshot is
// passed explicitly to the components that need it.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.chromium.org/luci/common/errors"
)

// DefaultToken is the placeholder auth token. Configuration validation
// refuses it outside local development.
const DefaultToken = "changeme"

// Environments in which the placeholder token is tolerated.
var devEnvironments = map[string]bool{
	"local":       true,
	"development": true,
}

// Config is the service configuration snapshot.
type Config struct {
	// Broker wiring.
	RedisURL                  string
	RedisUsername             string
	RedisPassword             string
	RedisSSL                  bool
	RedisSSLCACerts           string
	RedisPoolMaxConnections   int
	RedisSocketTimeout        time.Duration
	RedisSocketConnectTimeout time.Duration
	RedisHealthcheckInterval  time.Duration
	RedisRetryOnTimeout       bool

	// HTTP surface.
	Port          int
	InternalToken string

	// Cache and strategy.
	Namespace      string
	ClusterTTL     time.Duration
	MaxClusterSize int
	Strategy       string

	// Stream and worker.
	StreamKey            string
	DeadLetterStream     string
	StreamMaxLen         int64
	StreamApproximateTrim bool
	ConsumerGroup        string
	WorkerConsumerName   string
	WorkerCount          int
	ReadTimeout          time.Duration
	ReadCount            int64
	RetryIdle            time.Duration
	MaxAttempts          int
	MaxPendingPerWorker  int64

	// Metrics endpoint.
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Diagnostics and guardrails.
	Environment string
	AppName     string
}

// Load reads the configuration from the environment. Invalid values are
// errors: the service fails startup rather than running with a guessed
// configuration.
func Load() (*Config, error) {
	var env errorCollector
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	c := &Config{
		RedisURL:                  env.str("REDIS_URL", "redis://localhost:6379/0"),
		RedisUsername:             env.str("REDIS_USERNAME", ""),
		RedisPassword:             env.str("REDIS_PASSWORD", ""),
		RedisSSL:                  env.boolean("REDIS_SSL", false),
		RedisSSLCACerts:           env.str("REDIS_SSL_CA_CERTS", ""),
		RedisPoolMaxConnections:   env.integer("REDIS_POOL_MAX_CONNECTIONS", 10),
		RedisSocketTimeout:        env.seconds("REDIS_SOCKET_TIMEOUT", 5*time.Second),
		RedisSocketConnectTimeout: env.seconds("REDIS_SOCKET_CONNECT_TIMEOUT", 5*time.Second),
		RedisHealthcheckInterval:  env.seconds("REDIS_HEALTHCHECK_INTERVAL", 30*time.Second),
		RedisRetryOnTimeout:       env.boolean("REDIS_RETRY_ON_TIMEOUT", true),

		Port:          env.integer("PORT", 8080),
		InternalToken: env.str("INTERNAL_TOKEN", DefaultToken),

		Namespace:      env.str("NAMESPACE", "sploot"),
		ClusterTTL:     env.seconds("CLUSTER_TTL_SECONDS", 24*time.Hour),
		MaxClusterSize: env.integer("MAX_CLUSTER_SIZE", 10),
		Strategy:       env.str("CLUSTER_STRATEGY", "heuristic-v1"),

		StreamKey:             env.str("CLUSTER_STREAM_KEY", "streams:media.cluster"),
		DeadLetterStream:      env.str("CLUSTER_DEAD_LETTER_STREAM", "streams:media.cluster.deadletter"),
		StreamMaxLen:          int64(env.integer("CLUSTER_STREAM_MAXLEN", 10000)),
		StreamApproximateTrim: env.boolean("CLUSTER_STREAM_APPROXIMATE_TRIM", true),
		ConsumerGroup:         env.str("CLUSTER_CONSUMER_GROUP", "media-clustering-workers"),
		WorkerConsumerName:    env.str("CLUSTER_WORKER_CONSUMER_NAME", hostname),
		WorkerCount:           env.integer("CLUSTER_WORKER_COUNT", 1),
		ReadTimeout:           env.millis("CLUSTER_READ_TIMEOUT_MS", 5*time.Second),
		ReadCount:             int64(env.integer("CLUSTER_READ_COUNT", 16)),
		RetryIdle:             env.millis("CLUSTER_RETRY_IDLE_MS", time.Minute),
		MaxAttempts:           env.integer("CLUSTER_MAX_ATTEMPTS", 5),
		MaxPendingPerWorker:   int64(env.integer("CLUSTER_MAX_PENDING_PER_WORKER", 64)),

		MetricsEnabled: env.boolean("WORKER_METRICS_ENABLED", false),
		MetricsHost:    env.str("WORKER_METRICS_HOST", "0.0.0.0"),
		MetricsPort:    env.integer("WORKER_METRICS_PORT", 9090),

		Environment: env.str("ENVIRONMENT", "local"),
		AppName:     env.str("APP_NAME", "media-clustering"),
	}
	if env.err != nil {
		return nil, env.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration invariants that would otherwise
// surface as runtime misbehaviour.
func (c *Config) Validate() error {
	switch {
	case c.InternalToken == "":
		return errors.Reason("INTERNAL_TOKEN must not be empty").Err()
	case c.InternalToken == DefaultToken && !devEnvironments[c.Environment]:
		return errors.Reason("INTERNAL_TOKEN is the placeholder value; set a real token in environment %q", c.Environment).Err()
	case c.RedisPoolMaxConnections < 1:
		return errors.Reason("REDIS_POOL_MAX_CONNECTIONS must be at least 1").Err()
	case c.ClusterTTL <= 0:
		return errors.Reason("CLUSTER_TTL_SECONDS must be positive").Err()
	case c.MaxClusterSize < 1:
		return errors.Reason("MAX_CLUSTER_SIZE must be at least 1").Err()
	case c.ReadCount < 1:
		return errors.Reason("CLUSTER_READ_COUNT must be at least 1").Err()
	case c.MaxAttempts < 1:
		return errors.Reason("CLUSTER_MAX_ATTEMPTS must be at least 1").Err()
	case c.WorkerCount < 1:
		return errors.Reason("CLUSTER_WORKER_COUNT must be at least 1").Err()
	case c.MaxPendingPerWorker < 1:
		return errors.Reason("CLUSTER_MAX_PENDING_PER_WORKER must be at least 1").Err()
	}
	return nil
}

// RedisOptions builds the broker client options from the configuration.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Annotate(err, "parse REDIS_URL").Err()
	}
	if c.RedisUsername != "" {
		opts.Username = c.RedisUsername
	}
	if c.RedisPassword != "" {
		opts.Password = c.RedisPassword
	}
	opts.PoolSize = c.RedisPoolMaxConnections
	opts.DialTimeout = c.RedisSocketConnectTimeout
	opts.ReadTimeout = c.RedisSocketTimeout
	opts.WriteTimeout = c.RedisSocketTimeout
	if !c.RedisRetryOnTimeout {
		opts.MaxRetries = -1
	}
	if c.RedisSSL && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.RedisSSLCACerts != "" {
		pem, err := os.ReadFile(c.RedisSSLCACerts)
		if err != nil {
			return nil, errors.Annotate(err, "read REDIS_SSL_CA_CERTS").Err()
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Reason("REDIS_SSL_CA_CERTS contains no usable certificates").Err()
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.TLSConfig.RootCAs = pool
	}
	return opts, nil
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	return devEnvironments[c.Environment]
}

// errorCollector keeps the first environment parse error while the rest
// of the configuration block reads, so Load stays a flat literal.
type errorCollector struct {
	err error
}

func (e *errorCollector) str(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	return v
}

func (e *errorCollector) integer(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.record(key, err)
		return defaultValue
	}
	return n
}

func (e *errorCollector) boolean(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.record(key, err)
		return defaultValue
	}
	return b
}

// seconds reads a duration expressed as a number of seconds, matching the
// producer ecosystem's convention for these variables.
func (e *errorCollector) seconds(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.record(key, err)
		return defaultValue
	}
	return time.Duration(f * float64(time.Second))
}

// millis reads a duration expressed as a number of milliseconds.
func (e *errorCollector) millis(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.record(key, err)
		return defaultValue
	}
	return time.Duration(n) * time.Millisecond
}

func (e *errorCollector) record(key string, err error) {
	if e.err == nil {
		e.err = errors.Annotate(err, "invalid %s", key).Err()
	}
}
