package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/model"
	"github.com/papercomputeco/recall/pkg/persist"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

var _ = Describe("Server", func() {
	var (
		server *Server
		models *model.Engine
	)

	BeforeEach(func() {
		logger := zap.NewNop()
		store := inmemory.NewDriver()
		mock := &inference.Mock{}

		saver := persist.NewSaver(store, logger)
		mem := memory.NewEngine(store, mock, logger, memory.DefaultConfig())
		models = model.NewEngine(mock, logger)

		server = NewServer(Config{ListenAddr: ":0", ContextWindow: 8192}, saver, mem, models, logger)
	})

	AfterEach(func() {
		models.Close()
	})

	doJSON := func(method, path string, body any, headers map[string]string) (*http.Response, []byte) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}

		req := httptest.NewRequest(method, path, reader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())

		payload, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, payload
	}

	Describe("ping", func() {
		It("responds pong", func() {
			resp, body := doJSON(http.MethodGet, "/ping", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("pong"))
		})
	})

	Describe("conversations", func() {
		It("creates a conversation at version one", func() {
			resp, body := doJSON(http.MethodPost, "/conversations", CreateConversationRequest{
				Title:   "notes",
				ModelID: "llama3.2",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			conv := chat.Conversation{}
			Expect(json.Unmarshal(body, &conv)).To(Succeed())
			Expect(conv.ID).NotTo(BeEmpty())
			Expect(conv.Version).To(Equal(int64(1)))
			Expect(conv.CreatedAt).NotTo(BeZero())
		})

		It("rejects stale saves with 409 and both versions", func() {
			_, body := doJSON(http.MethodPost, "/conversations", CreateConversationRequest{Title: "a"}, nil)
			conv := chat.Conversation{}
			Expect(json.Unmarshal(body, &conv)).To(Succeed())

			resp, body := doJSON(http.MethodPut, "/conversations/"+conv.ID, SaveConversationRequest{
				Conversation:    conv,
				ExpectedVersion: 0,
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			conflict := ConflictResponse{}
			Expect(json.Unmarshal(body, &conflict)).To(Succeed())
			Expect(conflict.Expected).To(Equal(int64(0)))
			Expect(conflict.Actual).To(Equal(int64(1)))
		})

		It("replays identical saves carrying the same idempotency key", func() {
			headers := map[string]string{"Idempotency-Key": "retry-1"}

			_, body := doJSON(http.MethodPost, "/conversations", CreateConversationRequest{Title: "a"}, headers)
			first := chat.Conversation{}
			Expect(json.Unmarshal(body, &first)).To(Succeed())

			resp, body := doJSON(http.MethodPut, "/conversations/"+first.ID, SaveConversationRequest{
				Conversation:    first,
				ExpectedVersion: 0,
			}, headers)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			replayed := chat.Conversation{}
			Expect(json.Unmarshal(body, &replayed)).To(Succeed())
			Expect(replayed.Version).To(Equal(int64(1)))
		})

		It("appends messages through the retry path", func() {
			_, body := doJSON(http.MethodPost, "/conversations", CreateConversationRequest{Title: "a"}, nil)
			conv := chat.Conversation{}
			Expect(json.Unmarshal(body, &conv)).To(Succeed())

			resp, body := doJSON(http.MethodPost, fmt.Sprintf("/conversations/%s/messages", conv.ID), AppendMessageRequest{
				Role:    chat.RoleUser,
				Content: "hello",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			updated := chat.Conversation{}
			Expect(json.Unmarshal(body, &updated)).To(Succeed())
			Expect(updated.Version).To(Equal(int64(2)))
			Expect(updated.Messages).To(HaveLen(1))
		})

		It("rejects messages with invalid roles", func() {
			resp, _ := doJSON(http.MethodPost, "/conversations/c1/messages", AppendMessageRequest{
				Role:    "narrator",
				Content: "hello",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("404s on unknown conversations", func() {
			resp, _ := doJSON(http.MethodGet, "/conversations/missing", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("memory facts", func() {
		It("adds, lists, and pins facts", func() {
			resp, body := doJSON(http.MethodPost, "/memory/facts", AddFactRequest{
				Text:     "prefers dark mode",
				Category: "preference",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			fact := memory.Fact{}
			Expect(json.Unmarshal(body, &fact)).To(Succeed())
			Expect(fact.ID).NotTo(BeEmpty())

			resp, _ = doJSON(http.MethodPost, "/memory/facts/"+fact.ID+"/pin", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, body = doJSON(http.MethodGet, "/memory/facts", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"count":1`))
		})

		It("rejects invalid categories", func() {
			resp, _ := doJSON(http.MethodPost, "/memory/facts", AddFactRequest{
				Text:     "x",
				Category: "mood",
			}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("404s pin requests for unknown facts", func() {
			resp, _ := doJSON(http.MethodPost, "/memory/facts/missing/pin", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("holds the fact store at the hard cap as facts are added", func() {
			logger := zap.NewNop()
			store := inmemory.NewDriver()
			cfg := memory.DefaultConfig()
			cfg.PruneThreshold = 3
			cfg.HardCap = 2
			mem := memory.NewEngine(store, &inference.Mock{}, logger, cfg)
			server = NewServer(Config{ListenAddr: ":0", ContextWindow: 8192}, persist.NewSaver(store, logger), mem, models, logger)

			for i := 0; i < 4; i++ {
				resp, _ := doJSON(http.MethodPost, "/memory/facts", AddFactRequest{
					Text:     fmt.Sprintf("fact number %d", i),
					Category: "preference",
				}, nil)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			}

			resp, body := doJSON(http.MethodGet, "/memory/facts", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"count":2`))
		})

		It("returns a budgeted selection", func() {
			_, _ = doJSON(http.MethodPost, "/memory/facts", AddFactRequest{
				Text:     "works on the atlas project",
				Category: "project",
			}, nil)

			resp, body := doJSON(http.MethodGet, "/memory/selection?conversation_tokens=100", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			sel := memory.Selection{}
			Expect(json.Unmarshal(body, &sel)).To(Succeed())
			Expect(sel.Budget).To(BeNumerically(">=", 150))
			Expect(sel.Facts).To(HaveLen(1))
		})
	})

	Describe("model lifecycle", func() {
		It("reports idle state initially", func() {
			resp, body := doJSON(http.MethodGet, "/model/state", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			snap := model.Snapshot{}
			Expect(json.Unmarshal(body, &snap)).To(Succeed())
			Expect(snap.State).To(Equal(model.StateIdle))
		})

		It("loads a model and reports ready", func() {
			resp, body := doJSON(http.MethodPost, "/model/load", LoadModelRequest{ModelID: "llama3.2"}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			snap := model.Snapshot{}
			Expect(json.Unmarshal(body, &snap)).To(Succeed())
			Expect(snap.State).To(Equal(model.StateReady))
			Expect(snap.ModelID).To(Equal("llama3.2"))
		})

		It("rejects malformed model ids before touching the provider", func() {
			resp, _ := doJSON(http.MethodPost, "/model/load", LoadModelRequest{ModelID: "  "}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("unloads back to idle", func() {
			_, _ = doJSON(http.MethodPost, "/model/load", LoadModelRequest{ModelID: "llama3.2"}, nil)

			resp, body := doJSON(http.MethodPost, "/model/unload", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			snap := model.Snapshot{}
			Expect(json.Unmarshal(body, &snap)).To(Succeed())
			Expect(snap.State).To(Equal(model.StateIdle))
		})
	})
})
