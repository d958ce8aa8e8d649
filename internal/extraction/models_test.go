package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		model  *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		model = NewOllama(server.URL()+"/", "llava:1.6")
	})

	AfterEach(func() {
		server.Close()
	})

	It("names the provider and model", func() {
		Expect(model.Name()).To(Equal("ollama/llava:1.6"))
	})

	It("attaches the image to the user message", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				var req ollamaChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Model).To(Equal("llava:1.6"))
				Expect(req.Stream).To(BeFalse())
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Content).To(Equal("read it"))
				Expect(req.Messages[1].Images).To(Equal([]string{base64.StdEncoding.EncodeToString(jpegBytes)}))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "  TOTAL 245.00 \n"},
				Done:    true,
			}),
		))

		text, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("TOTAL 245.00"))
	})

	It("reports API errors with the status", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		_, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).To(MatchError(ContainSubstring("status 500")))
		Expect(err).To(MatchError(ContainSubstring("model not loaded")))
	})

	It("rejects an empty response", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))

		_, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).To(MatchError(ContainSubstring("empty response")))
	})
})

var _ = Describe("OpenAI", func() {
	var (
		server *ghttp.Server
		model  *OpenAI
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		model, err = NewOpenAI("test-key", server.URL()+"/v1", "gpt-4o-mini")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an api key", func() {
		_, err := NewOpenAI("", "", "")
		Expect(err).To(HaveOccurred())
	})

	It("sends the prompt and a JPEG data URL", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
			ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
			func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring(`"model":"gpt-4o-mini"`))
				Expect(string(body)).To(ContainSubstring(`"text":"read it"`))
				Expect(string(body)).To(ContainSubstring("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"model":  "gpt-4o-mini",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "TOTAL 245.00\n{\"totals\":{\"total\":\"245.00\"}}"},
				}},
			}),
		))

		text, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.HasPrefix(text, "TOTAL 245.00")).To(BeTrue())
	})

	It("reports a response without choices", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"id": "chatcmpl-2", "object": "chat.completion", "choices": []any{},
		}))

		_, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).To(MatchError(ContainSubstring("no response choices")))
	})

	It("wraps API errors", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "invalid_request_error"},
		}))

		_, err := model.Generate(context.Background(), "read it", jpegBytes)
		Expect(err).To(MatchError(ContainSubstring("creating chat completion")))
	})
})
