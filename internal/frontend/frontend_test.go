// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/cache"
	"github.com/rclong1221/sploot-media-clustering/internal/clustering"
	"github.com/rclong1221/sploot-media-clustering/internal/streams"

	. "github.com/smartystreets/goconvey/convey"
)

const testToken = "test-token"

type fakeBroker struct {
	appended  []map[string]interface{}
	appendErr error
	pingErr   error
	groupErr  error
}

func (f *fakeBroker) Append(ctx context.Context, fields map[string]interface{}) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.appended = append(f.appended, fields)
	return "1-0", nil
}

func (f *fakeBroker) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeBroker) GroupInfo(ctx context.Context) (*streams.GroupInfo, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return &streams.GroupInfo{Name: "media-clustering-workers"}, nil
}

type fakeStore struct {
	descs  map[string]*clustering.ClusterDescriptor
	delErr error
}

func (f *fakeStore) Get(ctx context.Context, petID string) (*clustering.ClusterDescriptor, error) {
	desc, ok := f.descs[petID]
	if !ok {
		return nil, cache.NotExistsErr
	}
	return desc, nil
}

func (f *fakeStore) Delete(ctx context.Context, petID string) (bool, error) {
	if f.delErr != nil {
		return false, f.delErr
	}
	_, ok := f.descs[petID]
	delete(f.descs, petID)
	return ok, nil
}

func serve(h *Handlers, method, path, body, token string) *httptest.ResponseRecorder {
	r := router.New()
	h.RegisterRoutes(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(rec *httptest.ResponseRecorder) map[string]interface{} {
	out := map[string]interface{}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		return nil
	}
	return out
}

func TestAuth(t *testing.T) {
	broker := &fakeBroker{}
	store := &fakeStore{descs: map[string]*clustering.ClusterDescriptor{}}
	h := NewHandlers(testToken, broker, store)

	Convey(`Liveness needs no token`, t, func() {
		rec := serve(h, "GET", "/healthz", "", "")
		So(rec.Code, ShouldEqual, http.StatusOK)
		So(decodeBody(rec)["status"], ShouldEqual, "ok")
	})

	Convey(`A missing token is rejected with the fixed body`, t, func() {
		rec := serve(h, "GET", "/internal/pets/p1/clusters", "", "")
		So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		So(decodeBody(rec)["detail"], ShouldEqual, "invalid internal token")
	})

	Convey(`A wrong token is rejected before the body is parsed`, t, func() {
		rec := serve(h, "POST", "/internal/cluster-jobs", "this is not json", "wrong")
		So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		So(decodeBody(rec)["detail"], ShouldEqual, "invalid internal token")
	})
}

func TestEnqueueJob(t *testing.T) {
	Convey(`With a frontend`, t, func() {
		broker := &fakeBroker{}
		store := &fakeStore{descs: map[string]*clustering.ClusterDescriptor{}}
		h := NewHandlers(testToken, broker, store)

		Convey(`A valid job is accepted and appended`, func() {
			body := `{"pet_id":"p1","payload":{"image_ids":["a","b"],"labels":["L"],"quality_score":0.8}}`
			rec := serve(h, "POST", "/internal/cluster-jobs", body, testToken)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			resp := decodeBody(rec)
			So(resp["status"], ShouldEqual, "accepted")
			So(resp["job_id"], ShouldNotBeEmpty)
			So(broker.appended, ShouldHaveLength, 1)
			So(broker.appended[0]["pet_id"], ShouldEqual, "p1")
			So(broker.appended[0]["attempts"], ShouldEqual, "0")
		})

		Convey(`A producer-assigned job ID is preserved`, func() {
			body := `{"job_id":"job-42","pet_id":"p1"}`
			rec := serve(h, "POST", "/internal/cluster-jobs", body, testToken)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(decodeBody(rec)["job_id"], ShouldEqual, "job-42")
		})

		Convey(`A job without pet_id is a bad request`, func() {
			rec := serve(h, "POST", "/internal/cluster-jobs", `{"reason":"x"}`, testToken)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeBody(rec)["detail"], ShouldEqual, "pet_id is required")
		})

		Convey(`A non-JSON body is a bad request`, func() {
			rec := serve(h, "POST", "/internal/cluster-jobs", "nope", testToken)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey(`A broker failure is service unavailable`, func() {
			broker.appendErr = errors.New("connection refused")
			rec := serve(h, "POST", "/internal/cluster-jobs", `{"pet_id":"p1"}`, testToken)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decodeBody(rec)["detail"], ShouldEqual, "broker unavailable")
		})
	})
}

func TestGetClusters(t *testing.T) {
	Convey(`With cached state`, t, func() {
		desc := &clustering.ClusterDescriptor{
			PetID: "p1",
			Clusters: []clustering.Cluster{{
				ID:          "p1-cluster-0",
				HeroImageID: "a",
				Members:     []clustering.Member{{ImageID: "a", Score: 1, Position: 0}},
			}},
			Metrics:   clustering.Metrics{QualityScore: 1, ProcessedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), Strategy: "heuristic-v1"},
			UpdatedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		}
		broker := &fakeBroker{}
		store := &fakeStore{descs: map[string]*clustering.ClusterDescriptor{"p1": desc}}
		h := NewHandlers(testToken, broker, store)

		Convey(`A cached pet returns its descriptor`, func() {
			rec := serve(h, "GET", "/internal/pets/p1/clusters", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusOK)
			resp := decodeBody(rec)
			So(resp["pet_id"], ShouldEqual, "p1")
		})

		Convey(`An uncached pet is not found`, func() {
			rec := serve(h, "GET", "/internal/pets/p2/clusters", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey(`Invalidation removes then noops`, func() {
			rec := serve(h, "POST", "/internal/pets/p1/invalidate", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(decodeBody(rec)["status"], ShouldEqual, "removed")

			rec = serve(h, "GET", "/internal/pets/p1/clusters", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusNotFound)

			rec = serve(h, "POST", "/internal/pets/p1/invalidate", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(decodeBody(rec)["status"], ShouldEqual, "noop")
		})
	})
}

func TestBrokerHealth(t *testing.T) {
	Convey(`With a frontend`, t, func() {
		broker := &fakeBroker{}
		store := &fakeStore{descs: map[string]*clustering.ClusterDescriptor{}}
		h := NewHandlers(testToken, broker, store)

		Convey(`A healthy broker and group is ok`, func() {
			rec := serve(h, "GET", "/internal/health/redis", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(rec)["status"], ShouldEqual, "ok")
		})

		Convey(`A failed ping is service unavailable`, func() {
			broker.pingErr = errors.New("connection refused")
			rec := serve(h, "GET", "/internal/health/redis", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey(`A missing group is service unavailable`, func() {
			broker.groupErr = errors.New("group does not exist")
			rec := serve(h, "GET", "/internal/health/redis", "", testToken)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
