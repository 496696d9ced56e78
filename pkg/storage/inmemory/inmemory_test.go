package inmemory_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
)

func TestInMemory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Storage Suite")
}

var _ = Describe("in-memory driver", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		ctx = context.Background()
	})

	It("round-trips records", func() {
		err := driver.Put(ctx, &storage.Record{ID: "conversation/c1", Data: []byte(`{"a":1}`)})
		Expect(err).NotTo(HaveOccurred())

		rec, err := driver.Get(ctx, "conversation/c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Data).To(Equal([]byte(`{"a":1}`)))
	})

	It("returns NotFoundError for missing ids", func() {
		_, err := driver.Get(ctx, "conversation/missing")
		Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
	})

	It("lists by prefix only", func() {
		Expect(driver.Put(ctx, &storage.Record{ID: "conversation/c1", Data: []byte("a")})).To(Succeed())
		Expect(driver.Put(ctx, &storage.Record{ID: "fact/f1", Data: []byte("b")})).To(Succeed())
		Expect(driver.Put(ctx, &storage.Record{ID: "fact/f2", Data: []byte("c")})).To(Succeed())

		recs, err := driver.List(ctx, "fact/")
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(2))
	})

	It("deletes records", func() {
		Expect(driver.Put(ctx, &storage.Record{ID: "fact/f1", Data: []byte("x")})).To(Succeed())
		Expect(driver.Delete(ctx, "fact/f1")).To(Succeed())

		_, err := driver.Get(ctx, "fact/f1")
		Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
	})

	It("isolates callers from stored bytes", func() {
		data := []byte("abc")
		Expect(driver.Put(ctx, &storage.Record{ID: "fact/f1", Data: data})).To(Succeed())
		data[0] = 'z'

		rec, err := driver.Get(ctx, "fact/f1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Data).To(Equal([]byte("abc")))
	})

	Describe("RunTransaction", func() {
		It("commits staged writes on success", func() {
			err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
				return tx.Put(&storage.Record{ID: "fact/f1", Data: []byte("v")})
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.Get(ctx, "fact/f1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("discards staged writes on error", func() {
			boom := errors.New("boom")
			err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
				if err := tx.Put(&storage.Record{ID: "fact/f1", Data: []byte("v")}); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			_, err = driver.Get(ctx, "fact/f1")
			Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
		})

		It("sees its own staged writes", func() {
			err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
				if err := tx.Put(&storage.Record{ID: "fact/f1", Data: []byte("v")}); err != nil {
					return err
				}
				rec, err := tx.Get("fact/f1")
				if err != nil {
					return err
				}
				Expect(rec.Data).To(Equal([]byte("v")))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("applies staged deletes on commit", func() {
			Expect(driver.Put(ctx, &storage.Record{ID: "fact/f1", Data: []byte("v")})).To(Succeed())

			err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
				return tx.Delete("fact/f1")
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.Get(ctx, "fact/f1")
			Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
		})
	})
})
