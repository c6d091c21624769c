// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package strategies

import (
	"testing"

	"github.com/rclong1221/sploot-media-clustering/internal/clustering/strategies/heuristic"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey(`Default is the heuristic strategy`, t, func() {
		So(Default().Name(), ShouldEqual, heuristic.StrategyName)
	})
	Convey(`Get resolves registered strategies by versioned name`, t, func() {
		s, err := Get(heuristic.StrategyName)
		So(err, ShouldBeNil)
		So(s.Name(), ShouldEqual, heuristic.StrategyName)
	})
	Convey(`Get rejects unknown strategies`, t, func() {
		_, err := Get("embedding-v1")
		So(err, ShouldEqual, ErrStrategyNotExist)
	})
}
