package apiserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	api "github.com/claboran/orchestrator-worker-poc/api/v1alpha1"
	apiserver "github.com/claboran/orchestrator-worker-poc/internal/api_server"
	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/message"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/memory"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

var _ = Describe("api server", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		broker  *memory.Broker
		handler http.Handler
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		broker = memory.New(time.Minute)
		registry := prometheus.NewRegistry()
		srv := apiserver.New(config.NewDefault(), service.NewJobService(s, broker), nil)
		h, err := srv.Router(registry, registry)
		Expect(err).To(BeNil())
		handler = h
	})

	AfterEach(func() {
		broker.Close()
		gormdb.Exec("DELETE FROM pages;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	do := func(method, target, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	receiveStartJob := func() message.StartJob {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		d, err := broker.Receive(ctx, queue.Control)
		Expect(err).To(BeNil())
		Expect(broker.Acknowledge(ctx, d.Handle)).To(Succeed())

		m, err := message.Decode(d.Body, d.Headers)
		Expect(err).To(BeNil())
		start, ok := m.(message.StartJob)
		Expect(ok).To(BeTrue())
		return start
	}

	generate := func(id string, pages int) {
		g, err := service.NewPageGenerator(s, pages, 1)
		Expect(err).To(BeNil())
		_, err = g.GenerateForJob(context.TODO(), id)
		Expect(err).To(BeNil())
	}

	Context("create job", func() {
		It("mints a job id and enqueues a StartJob", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", "")
			Expect(rr.Code).To(Equal(http.StatusAccepted))

			var reply api.JobCreated
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.JobId).ToNot(BeEmpty())

			Expect(receiveStartJob().JobID).To(Equal(reply.JobId))
		})

		It("uses the job id from the body", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":"J1"}`)
			Expect(rr.Code).To(Equal(http.StatusAccepted))
			Expect(rr.Body.String()).To(MatchJSON(`{"jobId":"J1"}`))

			Expect(receiveStartJob().JobID).To(Equal("J1"))
		})

		It("rejects a malformed body", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(broker.Len(queue.Control)).To(BeZero())
		})

		It("rejects an oversized job id", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":"`+strings.Repeat("x", 256)+`"}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(HavePrefix("API Error:"))
			Expect(broker.Len(queue.Control)).To(BeZero())
		})

		It("rejects a body that does not match the job schema", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":42}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(HavePrefix("API Error:"))
			Expect(broker.Len(queue.Control)).To(BeZero())
		})

		It("trims the job id", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":" J1 "}`)
			Expect(rr.Code).To(Equal(http.StatusAccepted))
			Expect(rr.Body.String()).To(MatchJSON(`{"jobId":"J1"}`))
		})

		It("rejects a job id with invalid characters", func() {
			rr := do(http.MethodPost, "/api/v1/jobs", `{"jobId":"a/b"}`)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(rr.Body.String()).To(ContainSubstring("invalid jobId"))
			Expect(broker.Len(queue.Control)).To(BeZero())
		})

		It("returns 503 when the control queue is closed", func() {
			broker.Close()
			rr := do(http.MethodPost, "/api/v1/jobs", "")
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Context("get job", func() {
		It("returns the job with its pages", func() {
			generate("J1", 3)

			rr := do(http.MethodGet, "/api/v1/jobs/J1", "")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var reply api.Job
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.JobId).To(Equal("J1"))
			Expect(reply.Status).To(Equal(api.JobStatusCREATED))
			Expect(reply.Pages).ToNot(BeNil())
			Expect(*reply.Pages).To(HaveLen(3))
			Expect(*reply.PageCount).To(Equal(map[string]int{"CREATED": 3}))
			for i, p := range *reply.Pages {
				Expect(p.Position).To(Equal(i))
				Expect(p.Status).To(Equal(api.PageStatusCREATED))
			}
		})

		It("returns 404 for an unknown job", func() {
			rr := do(http.MethodGet, "/api/v1/jobs/missing", "")
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(rr.Body.String()).To(ContainSubstring("missing"))
		})
	})

	Context("list jobs", func() {
		BeforeEach(func() {
			generate("J1", 1)
			generate("J2", 1)
			Expect(s.Job().UpdateStatus(context.TODO(), "J2", model.JobStatusFailed)).To(Succeed())
		})

		It("lists every job", func() {
			rr := do(http.MethodGet, "/api/v1/jobs", "")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var reply api.JobList
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply).To(HaveLen(2))
		})

		It("filters by status", func() {
			rr := do(http.MethodGet, "/api/v1/jobs?status=failed", "")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var reply api.JobList
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply).To(HaveLen(1))
			Expect(reply[0].JobId).To(Equal("J2"))
			Expect(reply[0].Status).To(Equal(api.JobStatusFAILED))
			Expect(reply[0].Pages).To(BeNil())
		})

		It("rejects an unknown status", func() {
			rr := do(http.MethodGet, "/api/v1/jobs?status=DONE", "")
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid limit before reaching the handler", func() {
			for _, limit := range []string{"0", "-1", "ten"} {
				rr := do(http.MethodGet, "/api/v1/jobs?limit="+limit, "")
				Expect(rr.Code).To(Equal(http.StatusBadRequest), limit)
				Expect(rr.Body.String()).To(HavePrefix("API Error:"), limit)
			}
		})

		It("combines status filters", func() {
			rr := do(http.MethodGet, "/api/v1/jobs?status=Created&status=FAILED", "")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var reply api.JobList
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply).To(HaveLen(2))
		})

		It("limits the result", func() {
			rr := do(http.MethodGet, "/api/v1/jobs?limit=1", "")
			Expect(rr.Code).To(Equal(http.StatusOK))

			var reply api.JobList
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply).To(HaveLen(1))
		})
	})

	It("serves health and request metrics", func() {
		Expect(do(http.MethodGet, "/health", "").Code).To(Equal(http.StatusOK))

		rr := do(http.MethodGet, "/metrics", "")
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(rr.Body.String()).To(ContainSubstring("chi_requests_total"))
		Expect(rr.Body.String()).To(ContainSubstring(`path="/health"`))
	})
})
