package persist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/persist"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
)

func TestPersist(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Persist Suite")
}

var _ = Describe("Saver", func() {
	var (
		store *inmemory.Driver
		saver *persist.Saver
		ctx   context.Context
		clock time.Time
	)

	BeforeEach(func() {
		store = inmemory.NewDriver()
		ctx = context.Background()
		clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		saver = persist.NewSaver(store, zap.NewNop(), persist.WithClock(func() time.Time { return clock }))
	})

	newConv := func(id string) *chat.Conversation {
		conv := chat.NewConversation("test", "llama3.2")
		conv.ID = id
		return conv
	}

	Describe("Save", func() {
		It("bumps the version by exactly one per save", func() {
			conv := newConv("c1")

			result, err := saver.Save(ctx, conv, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Conversation.Version).To(Equal(int64(1)))

			result, err = saver.Save(ctx, result.Conversation, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Conversation.Version).To(Equal(int64(2)))
		})

		It("stamps CreatedAt once and never changes it", func() {
			conv := newConv("c1")

			result, err := saver.Save(ctx, conv, 0)
			Expect(err).NotTo(HaveOccurred())
			created := result.Conversation.CreatedAt
			Expect(created).To(Equal(clock))

			clock = clock.Add(time.Hour)
			result, err = saver.Save(ctx, result.Conversation, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Conversation.CreatedAt).To(Equal(created))
			Expect(result.Conversation.UpdatedAt).To(Equal(clock))
		})

		It("rejects a stale version with a ConflictError carrying both versions", func() {
			conv := newConv("c1")
			_, err := saver.Save(ctx, conv, 0)
			Expect(err).NotTo(HaveOccurred())

			_, err = saver.Save(ctx, conv, 0)
			var conflict persist.ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Expected).To(Equal(int64(0)))
			Expect(conflict.Actual).To(Equal(int64(1)))
			Expect(conflict.ID).To(Equal("c1"))
		})

		It("leaves the stored record untouched on conflict", func() {
			conv := newConv("c1")
			conv.Title = "first"
			_, err := saver.Save(ctx, conv, 0)
			Expect(err).NotTo(HaveOccurred())

			stale := newConv("c1")
			stale.Title = "stale write"
			_, err = saver.Save(ctx, stale, 0)
			Expect(err).To(HaveOccurred())

			got, err := saver.Get(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("first"))
			Expect(got.Version).To(Equal(int64(1)))
		})

		It("rejects negative expected versions", func() {
			_, err := saver.Save(ctx, newConv("c1"), -1)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("idempotent replay", func() {
		It("replays an identical save within the TTL without bumping the version", func() {
			conv := newConv("c1")

			first, err := saver.Save(ctx, conv, 0, persist.WithIdempotencyKey("k1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Replayed).To(BeFalse())
			Expect(first.Conversation.Version).To(Equal(int64(1)))

			second, err := saver.Save(ctx, conv, 0, persist.WithIdempotencyKey("k1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Replayed).To(BeTrue())
			Expect(second.Conversation.Version).To(Equal(int64(1)))

			got, err := saver.Get(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(1)))
		})

		It("expires replay entries after the TTL", func() {
			conv := newConv("c1")

			result, err := saver.Save(ctx, conv, 0, persist.WithIdempotencyKey("k1"))
			Expect(err).NotTo(HaveOccurred())

			clock = clock.Add(6 * time.Second)
			_, err = saver.Save(ctx, result.Conversation, 0, persist.WithIdempotencyKey("k1"))
			Expect(errors.As(err, &persist.ConflictError{})).To(BeTrue())
		})

		It("scopes keys per conversation", func() {
			_, err := saver.Save(ctx, newConv("c1"), 0, persist.WithIdempotencyKey("shared"))
			Expect(err).NotTo(HaveOccurred())

			result, err := saver.Save(ctx, newConv("c2"), 0, persist.WithIdempotencyKey("shared"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Replayed).To(BeFalse())
		})
	})

	Describe("SaveWithRetry", func() {
		It("creates the conversation when none exists", func() {
			result, err := saver.SaveWithRetry(ctx, "c1", func(conv *chat.Conversation) error {
				conv.Append(chat.NewMessage("c1", chat.RoleUser, "hello"))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Conversation.Version).To(Equal(int64(1)))
			Expect(result.Conversation.Messages).To(HaveLen(1))
		})

		It("merges concurrent appends so both survive", func() {
			_, err := saver.Save(ctx, newConv("c1"), 0)
			Expect(err).NotTo(HaveOccurred())

			// A competing writer lands between fetch and save.
			raced := false
			_, err = saver.SaveWithRetry(ctx, "c1", func(conv *chat.Conversation) error {
				if !raced {
					raced = true
					_, err := saver.SaveWithRetry(ctx, "c1", func(inner *chat.Conversation) error {
						inner.Append(chat.NewMessage("c1", chat.RoleUser, "from B"))
						return nil
					})
					Expect(err).NotTo(HaveOccurred())
				}
				conv.Append(chat.NewMessage("c1", chat.RoleUser, "from A"))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := saver.Get(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(3)))

			contents := []string{}
			for _, m := range got.Messages {
				contents = append(contents, m.Content)
			}
			Expect(contents).To(ContainElements("from A", "from B"))
		})

		It("gives up with ExhaustedError once retries are spent", func() {
			saver = persist.NewSaver(store, zap.NewNop(),
				persist.WithClock(func() time.Time { return clock }),
				persist.WithConflictRetries(1),
			)
			_, err := saver.Save(ctx, newConv("c1"), 0)
			Expect(err).NotTo(HaveOccurred())

			// Every attempt loses the race.
			_, err = saver.SaveWithRetry(ctx, "c1", func(conv *chat.Conversation) error {
				_, saveErr := saver.SaveWithRetry(ctx, "c1", func(inner *chat.Conversation) error {
					inner.Append(chat.NewMessage("c1", chat.RoleUser, "winner"))
					return nil
				})
				Expect(saveErr).NotTo(HaveOccurred())
				conv.Append(chat.NewMessage("c1", chat.RoleUser, "loser"))
				return nil
			})

			var exhausted persist.ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Attempts).To(Equal(2))
		})
	})

	Describe("Get and Delete", func() {
		It("returns NotFoundError for missing conversations", func() {
			_, err := saver.Get(ctx, "nope")
			Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
		})

		It("deletes stored conversations", func() {
			_, err := saver.Save(ctx, newConv("c1"), 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(saver.Delete(ctx, "c1")).To(Succeed())
			_, err = saver.Get(ctx, "c1")
			Expect(errors.As(err, &storage.NotFoundError{})).To(BeTrue())
		})
	})

	Describe("List", func() {
		It("returns every stored conversation", func() {
			_, err := saver.Save(ctx, newConv("c1"), 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = saver.Save(ctx, newConv("c2"), 0)
			Expect(err).NotTo(HaveOccurred())

			convs, err := saver.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(HaveLen(2))
		})
	})
})
