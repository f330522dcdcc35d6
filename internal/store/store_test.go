package store_test

import (
	"context"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	st "github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

func newJob(id string, pages int) model.Job {
	list := make([]model.Page, 0, pages)
	for i := 0; i < pages; i++ {
		list = append(list, model.NewPage(i, model.PageData{}))
	}
	return model.NewJob(id, list)
}

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		store.Close()
	})

	Context("transaction", func() {
		It("insert a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().CreateJobWithPages(ctx, newJob("J1", 2))
			Expect(job).ToNot(BeNil())
			Expect(err).To(BeNil())

			// commit
			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))

			err = gormDB.Raw("SELECT COUNT(*) from pages;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(2))
		})

		It("rollback a job successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().CreateJobWithPages(ctx, newJob("J1", 3))
			Expect(job).ToNot(BeNil())
			Expect(err).To(BeNil())

			// read in the same transaction
			pages, err := store.Page().ListByJob(ctx, "J1")
			Expect(err).To(BeNil())
			Expect(pages).To(HaveLen(3))

			// rollback
			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from jobs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))

			err = gormDB.Raw("SELECT COUNT(*) from pages;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("reuses the transaction already in the context", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			nested, err := store.NewTransactionContext(ctx)
			Expect(err).To(BeNil())
			Expect(st.FromContext(nested)).To(BeIdenticalTo(st.FromContext(ctx)))

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())
		})

		It("fails to commit twice", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())
			_, err = st.Rollback(ctx)
			Expect(err).ToNot(BeNil())
		})

		It("drops the transaction from the returned context", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			Expect(st.FromContext(ctx)).ToNot(BeNil())

			after, err := st.Commit(ctx)
			Expect(err).To(BeNil())
			Expect(st.FromContext(after)).To(BeNil())
			Expect(st.FromContext(ctx)).To(BeNil())

			// without a transaction both calls are no-ops
			_, err = st.Commit(after)
			Expect(err).To(BeNil())
			_, err = st.Rollback(context.TODO())
			Expect(err).To(BeNil())
		})

		AfterEach(func() {
			gormDB.Exec("DELETE from pages;")
			gormDB.Exec("DELETE from jobs;")
		})
	})

	Context("statistics", func() {
		It("counts jobs and pages by status", func() {
			_, err := store.Job().CreateJobWithPages(context.TODO(), newJob("J1", 2))
			Expect(err).To(BeNil())
			_, err = store.Job().CreateJobWithPages(context.TODO(), newJob("J2", 1))
			Expect(err).To(BeNil())
			Expect(store.Job().UpdateStatus(context.TODO(), "J2", model.JobStatusFinished)).To(Succeed())

			stats, err := store.Statistics(context.TODO())
			Expect(err).To(BeNil())
			Expect(stats.JobsByStatus).To(Equal(map[model.JobStatus]int64{
				model.JobStatusCreated:  1,
				model.JobStatusFinished: 1,
			}))
			Expect(stats.PagesByStatus).To(Equal(map[model.PageStatus]int64{
				model.PageStatusCreated: 3,
			}))
		})

		AfterEach(func() {
			gormDB.Exec("DELETE from pages;")
			gormDB.Exec("DELETE from jobs;")
		})
	})
})
