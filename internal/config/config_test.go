// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// setenv sets an environment variable for the enclosing Convey block and
// returns the restore function.
func setenv(key, value string) func() {
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	return func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	}
}

func TestLoad(t *testing.T) {
	Convey(`Defaults load in a clean environment`, t, func() {
		cfg, err := Load()
		So(err, ShouldBeNil)
		So(cfg.StreamKey, ShouldEqual, "streams:media.cluster")
		So(cfg.DeadLetterStream, ShouldEqual, "streams:media.cluster.deadletter")
		So(cfg.ConsumerGroup, ShouldEqual, "media-clustering-workers")
		So(cfg.ClusterTTL, ShouldEqual, 24*time.Hour)
		So(cfg.ReadTimeout, ShouldEqual, 5*time.Second)
		So(cfg.MaxAttempts, ShouldEqual, 5)
		So(cfg.Environment, ShouldEqual, "local")
		So(cfg.IsDev(), ShouldBeTrue)
	})

	Convey(`Values parse from the environment`, t, func() {
		defer setenv("CLUSTER_READ_TIMEOUT_MS", "1500")()
		defer setenv("CLUSTER_TTL_SECONDS", "60")()
		defer setenv("REDIS_SOCKET_TIMEOUT", "2.5")()
		defer setenv("CLUSTER_STREAM_APPROXIMATE_TRIM", "false")()
		cfg, err := Load()
		So(err, ShouldBeNil)
		So(cfg.ReadTimeout, ShouldEqual, 1500*time.Millisecond)
		So(cfg.ClusterTTL, ShouldEqual, time.Minute)
		So(cfg.RedisSocketTimeout, ShouldEqual, 2500*time.Millisecond)
		So(cfg.StreamApproximateTrim, ShouldBeFalse)
	})

	Convey(`Invalid values fail startup`, t, func() {
		defer setenv("CLUSTER_READ_COUNT", "lots")()
		_, err := Load()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "CLUSTER_READ_COUNT")
	})

	Convey(`The placeholder token is refused outside development`, t, func() {
		defer setenv("ENVIRONMENT", "production")()
		_, err := Load()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "INTERNAL_TOKEN")

		Convey(`but a real token is accepted`, func() {
			defer setenv("INTERNAL_TOKEN", "s3cret")()
			cfg, err := Load()
			So(err, ShouldBeNil)
			So(cfg.IsDev(), ShouldBeFalse)
		})
	})

	Convey(`Zero worker count is refused`, t, func() {
		defer setenv("CLUSTER_WORKER_COUNT", "0")()
		_, err := Load()
		So(err, ShouldNotBeNil)
	})
}

func TestRedisOptions(t *testing.T) {
	Convey(`Options derive from the URL plus overrides`, t, func() {
		defer setenv("REDIS_URL", "redis://example.com:6380/2")()
		defer setenv("REDIS_PASSWORD", "hunter2")()
		defer setenv("REDIS_POOL_MAX_CONNECTIONS", "32")()
		cfg, err := Load()
		So(err, ShouldBeNil)
		opts, err := cfg.RedisOptions()
		So(err, ShouldBeNil)
		So(opts.Addr, ShouldEqual, "example.com:6380")
		So(opts.DB, ShouldEqual, 2)
		So(opts.Password, ShouldEqual, "hunter2")
		So(opts.PoolSize, ShouldEqual, 32)
	})

	Convey(`A bad URL is a configuration error`, t, func() {
		defer setenv("REDIS_URL", "://nope")()
		// URL parsing happens when the client is built, not at Load.
		cfg, err := Load()
		So(err, ShouldBeNil)
		_, err = cfg.RedisOptions()
		So(err, ShouldNotBeNil)
	})

	Convey(`SSL enables TLS`, t, func() {
		defer setenv("REDIS_SSL", "true")()
		cfg, err := Load()
		So(err, ShouldBeNil)
		opts, err := cfg.RedisOptions()
		So(err, ShouldBeNil)
		So(opts.TLSConfig, ShouldNotBeNil)
	})
}
