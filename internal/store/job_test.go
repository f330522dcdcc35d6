package store_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	st "github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const insertJobStm = "INSERT INTO jobs (id, status, created_at, updated_at) VALUES ('%s', '%s', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);"

var _ = Describe("job store", Ordered, func() {
	var (
		s      st.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := st.InitDB(config.NewDefault())
		Expect(err).To(BeNil())
		s = st.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	Context("create", func() {
		It("creates the job with its pages", func() {
			job, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 3))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusCreated))
			Expect(job.Dispatched()).To(BeFalse())
			for _, p := range job.Pages {
				Expect(p.JobID).To(Equal("J1"))
			}

			var count int
			Expect(gormdb.Raw("SELECT COUNT(*) FROM pages WHERE job_id = 'J1';").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(3))
		})

		It("requires an id", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("", 1))
			Expect(err).ToNot(BeNil())
		})

		It("returns ErrDuplicateKey for an existing id", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 1))
			Expect(err).To(BeNil())

			_, err = s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 1))
			Expect(errors.Is(err, st.ErrDuplicateKey)).To(BeTrue())
		})

		It("rejects a page without its job", func() {
			page := model.NewPage(0, model.PageData{})
			page.JobID = "missing"
			err := gormdb.Create(&page).Error
			Expect(err).ToNot(BeNil())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM pages;")
			gormdb.Exec("DELETE FROM jobs;")
		})
	})

	Context("get", func() {
		It("loads the pages ordered by position", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 5))
			Expect(err).To(BeNil())

			job, err := s.Job().Get(context.TODO(), "J1")
			Expect(err).To(BeNil())
			Expect(job.Pages).To(HaveLen(5))
			for i, p := range job.Pages {
				Expect(p.Position).To(Equal(i))
			}
		})

		It("returns ErrRecordNotFound for an unknown job", func() {
			_, err := s.Job().Get(context.TODO(), "missing")
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())

			_, err = s.Job().GetForUpdate(context.TODO(), "missing")
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})

		It("locks the job inside a transaction", func() {
			Expect(gormdb.Exec(fmtJob("J1", model.JobStatusRunning)).Error).To(BeNil())

			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			job, err := s.Job().GetForUpdate(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusRunning))
			Expect(job.Pages).To(BeEmpty())
			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())
		})

		It("tells whether a job exists", func() {
			Expect(gormdb.Exec(fmtJob("J1", model.JobStatusCreated)).Error).To(BeNil())

			exists, err := s.Job().Exists(context.TODO(), "J1")
			Expect(err).To(BeNil())
			Expect(exists).To(BeTrue())

			exists, err = s.Job().Exists(context.TODO(), "J2")
			Expect(err).To(BeNil())
			Expect(exists).To(BeFalse())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM pages;")
			gormdb.Exec("DELETE FROM jobs;")
		})
	})

	Context("list", func() {
		BeforeEach(func() {
			Expect(gormdb.Exec(fmtJob("J1", model.JobStatusCreated)).Error).To(BeNil())
			Expect(gormdb.Exec(fmtJob("J2", model.JobStatusRunning)).Error).To(BeNil())
			Expect(gormdb.Exec(fmtJob("J3", model.JobStatusFailed)).Error).To(BeNil())
		})

		It("lists every job", func() {
			jobs, err := s.Job().List(context.TODO(), st.NewJobQueryFilter())
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
		})

		It("filters by status", func() {
			jobs, err := s.Job().List(context.TODO(), st.NewJobQueryFilter().ByStatus(model.JobStatusRunning, model.JobStatusFailed))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))
		})

		It("limits the result", func() {
			jobs, err := s.Job().List(context.TODO(), st.NewJobQueryFilter().WithLimit(1))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
		})

		It("ignores empty criteria", func() {
			jobs, err := s.Job().List(context.TODO(), st.NewJobQueryFilter().ByStatus().WithLimit(0))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))

			jobs, err = s.Job().List(context.TODO(), nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM jobs;")
		})
	})

	Context("update", func() {
		It("updates the status", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 1))
			Expect(err).To(BeNil())

			Expect(s.Job().UpdateStatus(context.TODO(), "J1", model.JobStatusRunning)).To(Succeed())
			job, err := s.Job().Get(context.TODO(), "J1")
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusRunning))
		})

		It("marks the job dispatched", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 1))
			Expect(err).To(BeNil())

			Expect(s.Job().MarkDispatched(context.TODO(), "J1")).To(Succeed())
			job, err := s.Job().Get(context.TODO(), "J1")
			Expect(err).To(BeNil())
			Expect(job.Dispatched()).To(BeTrue())
		})

		It("returns ErrRecordNotFound for an unknown job", func() {
			err := s.Job().UpdateStatus(context.TODO(), "missing", model.JobStatusRunning)
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
			err = s.Job().MarkDispatched(context.TODO(), "missing")
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM pages;")
			gormdb.Exec("DELETE FROM jobs;")
		})
	})

	Context("delete", func() {
		It("removes the job with its pages", func() {
			_, err := s.Job().CreateJobWithPages(context.TODO(), newJob("J1", 2))
			Expect(err).To(BeNil())

			Expect(s.Job().Delete(context.TODO(), "J1")).To(Succeed())

			var count int
			Expect(gormdb.Raw("SELECT COUNT(*) FROM pages;").Scan(&count).Error).To(BeNil())
			Expect(count).To(BeZero())
			Expect(gormdb.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(BeZero())
		})

		It("ignores an unknown job", func() {
			Expect(s.Job().Delete(context.TODO(), "missing")).To(Succeed())
		})
	})
})

func fmtJob(id string, status model.JobStatus) string {
	return fmt.Sprintf(insertJobStm, id, status)
}
