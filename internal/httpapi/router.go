// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestsTotal counts handled requests by route template and status class,
// following the teacher's convention of a single package-level Prometheus
// collector registered once at startup.
var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vaultstorage",
	Name:      "http_requests_total",
	Help:      "Total HTTP requests served, by route and status class.",
}, []string{"route", "status"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// metrics wraps h, recording a requestsTotal observation per completed
// request under routeName.
func metrics(routeName string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		requestsTotal.WithLabelValues(routeName, statusClass(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Router assembles the full REST/TUS/Admin surface under tenant-scoped
// routes, and the S3-wire surface under its own SigV4-authenticated prefix
// (spec §6 "route layout").
func Router(auth *Authenticator, buckets *BucketServer, objects *ObjectServer, tus *TUSServer, admin *AdminServer, s3 *S3Server) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	tenantAuth := auth.Middleware(func(r *http.Request) string { return mux.Vars(r)["tenantId"] })

	api := r.PathPrefix("/t/{tenantId}").Subrouter()
	api.Use(tenantAuth)

	api.HandleFunc("/bucket", metrics("bucket.create", buckets.Create)).Methods(http.MethodPost)
	api.HandleFunc("/bucket", metrics("bucket.list", buckets.List)).Methods(http.MethodGet)
	api.HandleFunc("/bucket/{bucket}", metrics("bucket.get", buckets.Get)).Methods(http.MethodGet)
	api.HandleFunc("/bucket/{bucket}", metrics("bucket.update", buckets.Update)).Methods(http.MethodPatch)
	api.HandleFunc("/bucket/{bucket}", metrics("bucket.delete", buckets.Delete)).Methods(http.MethodDelete)
	api.HandleFunc("/bucket/{bucket}/empty", metrics("bucket.empty", buckets.Empty)).Methods(http.MethodPost)

	api.HandleFunc("/object/{bucket}/{object:.*}", metrics("object.put", objects.Put)).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/object/{bucket}/{object:.*}", metrics("object.get", objects.Get)).Methods(http.MethodGet)
	api.HandleFunc("/object/{bucket}/{object:.*}", metrics("object.head", objects.Head)).Methods(http.MethodHead)
	api.HandleFunc("/object/{bucket}/{object:.*}", metrics("object.delete", objects.Delete)).Methods(http.MethodDelete)
	api.HandleFunc("/object/list/{bucket}", metrics("object.list", objects.List)).Methods(http.MethodPost)
	api.HandleFunc("/object/{bucket}", metrics("object.multidelete", objects.MultiDelete)).Methods(http.MethodDelete)
	api.HandleFunc("/object/copy", metrics("object.copy", objects.Copy)).Methods(http.MethodPost)
	api.HandleFunc("/object/move", metrics("object.move", objects.Move)).Methods(http.MethodPost)

	api.HandleFunc("/upload/resumable/{bucket}/{object:.*}", metrics("tus.create", tus.Create)).Methods(http.MethodPost)
	api.HandleFunc("/upload/resumable/{bucket}/{object:.*}", metrics("tus.head", tus.Head)).Methods(http.MethodHead)
	api.HandleFunc("/upload/resumable/{bucket}/{object:.*}", metrics("tus.patch", tus.Patch)).Methods(http.MethodPatch)
	api.HandleFunc("/upload/resumable/{bucket}/{object:.*}", metrics("tus.delete", tus.Delete)).Methods(http.MethodDelete)

	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.HandleFunc("/migrate/fleet", metrics("admin.migrate.fleet", admin.EnqueueFleetMigration)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/migrate/progress", metrics("admin.migrate.progress", admin.FleetProgress)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/migrate/failed", metrics("admin.migrate.failed", admin.FleetFailed)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/migrate/reset", metrics("admin.migrate.reset", admin.ResetFleet)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/orphans/{bucket}", metrics("admin.orphans.scan", admin.ScanOrphans)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/orphans/delete", metrics("admin.orphans.delete", admin.DeleteOrphans)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/shards/reserve", metrics("admin.shards.reserve", admin.ReserveShard)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/shards/{reservationId}/confirm", metrics("admin.shards.confirm", admin.ConfirmShard)).Methods(http.MethodPost)
	adminRouter.HandleFunc("/shards/{reservationId}/cancel", metrics("admin.shards.cancel", admin.CancelShard)).Methods(http.MethodPost)

	s3Router := r.PathPrefix("/s3").Subrouter()
	s3Router.HandleFunc("/{bucket}/{key:.*}", metrics("s3.put", s3.PutObject)).Methods(http.MethodPut)
	s3Router.HandleFunc("/{bucket}/{key:.*}", metrics("s3.get", s3.GetObject)).Methods(http.MethodGet)
	s3Router.HandleFunc("/{bucket}/{key:.*}", metrics("s3.head", s3.HeadObject)).Methods(http.MethodHead)
	s3Router.HandleFunc("/{bucket}/{key:.*}", metrics("s3.delete", s3.DeleteObject)).Methods(http.MethodDelete)

	return r
}
