package chat_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/chat"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chat Suite")
}

var _ = Describe("Conversation", func() {
	It("creates conversations with ids and zero version", func() {
		conv := chat.NewConversation("notes", "llama3.2")
		Expect(conv.ID).NotTo(BeEmpty())
		Expect(conv.Title).To(Equal("notes"))
		Expect(conv.ModelID).To(Equal("llama3.2"))
		Expect(conv.Version).To(BeZero())
		Expect(conv.Messages).To(BeEmpty())
	})

	It("appends messages in order", func() {
		conv := chat.NewConversation("", "")
		conv.Append(chat.NewMessage(conv.ID, chat.RoleUser, "hello"))
		conv.Append(chat.NewMessage(conv.ID, chat.RoleAssistant, "hi there"))

		Expect(conv.Messages).To(HaveLen(2))
		Expect(conv.Messages[0].Role).To(Equal(chat.RoleUser))
		Expect(conv.Messages[1].Role).To(Equal(chat.RoleAssistant))
		Expect(conv.Messages[0].ConversationID).To(Equal(conv.ID))
	})

	Describe("Clone", func() {
		It("deep copies messages", func() {
			conv := chat.NewConversation("a", "m")
			conv.Append(chat.NewMessage(conv.ID, chat.RoleUser, "original"))

			clone := conv.Clone()
			clone.Messages[0].Content = "mutated"
			clone.Append(chat.NewMessage(conv.ID, chat.RoleUser, "extra"))

			Expect(conv.Messages).To(HaveLen(1))
			Expect(conv.Messages[0].Content).To(Equal("original"))
		})
	})

	Describe("ValidRole", func() {
		It("accepts the three chat roles", func() {
			Expect(chat.ValidRole(chat.RoleUser)).To(BeTrue())
			Expect(chat.ValidRole(chat.RoleAssistant)).To(BeTrue())
			Expect(chat.ValidRole(chat.RoleSystem)).To(BeTrue())
		})

		It("rejects anything else", func() {
			Expect(chat.ValidRole("moderator")).To(BeFalse())
			Expect(chat.ValidRole("")).To(BeFalse())
		})
	})
})

var _ = Describe("token estimation", func() {
	It("rounds up at four characters per token", func() {
		Expect(chat.EstimateTokens("")).To(Equal(0))
		Expect(chat.EstimateTokens("abcd")).To(Equal(1))
		Expect(chat.EstimateTokens("abcde")).To(Equal(2))
		Expect(chat.EstimateTokens("12345678")).To(Equal(2))
	})

	It("sums message content", func() {
		msgs := []chat.Message{
			{Content: "abcd"},
			{Content: "efgh"},
		}
		Expect(chat.EstimateMessageTokens(msgs)).To(Equal(2))
	})
})
