package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/storage"
)

func TestSQLite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQLite Storage Suite")
}

var _ = Describe("dsn", func() {
	It("requests immediate transactions", func() {
		Expect(dsn("recall.db")).To(Equal("recall.db?_txlock=immediate"))
	})

	It("appends to existing connection parameters", func() {
		Expect(dsn("file:recall.db?cache=shared")).To(Equal("file:recall.db?cache=shared&_txlock=immediate"))
	})
})

var _ = Describe("Driver", func() {
	var (
		driver *Driver
		tmpDir string
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sqlite-test-*")
		Expect(err).NotTo(HaveOccurred())

		driver, err = NewDriver(filepath.Join(tmpDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	AfterEach(func() {
		driver.Close()
		os.RemoveAll(tmpDir)
	})

	It("round-trips records", func() {
		Expect(driver.Put(ctx, &storage.Record{ID: "conversation/c1", Data: []byte(`{"v":1}`)})).To(Succeed())

		rec, err := driver.Get(ctx, "conversation/c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Data).To(Equal([]byte(`{"v":1}`)))
	})

	It("returns a typed error for missing records", func() {
		_, err := driver.Get(ctx, "conversation/missing")
		Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
	})

	It("commits transactional writes", func() {
		err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
			return tx.Put(&storage.Record{ID: "fact/f1", Data: []byte(`{}`)})
		})
		Expect(err).NotTo(HaveOccurred())

		recs, err := driver.List(ctx, "fact/")
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
	})

	It("rolls back when the transaction function fails", func() {
		boom := errors.New("boom")
		err := driver.RunTransaction(ctx, func(tx storage.Tx) error {
			if err := tx.Put(&storage.Record{ID: "fact/f1", Data: []byte(`{}`)}); err != nil {
				return err
			}
			return boom
		})
		Expect(err).To(MatchError(boom))

		recs, err := driver.List(ctx, "fact/")
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(BeEmpty())
	})
})
