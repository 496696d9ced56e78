package ollama

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/inference"
)

func TestOllama(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ollama Suite")
}

var _ = Describe("parseCandidates", func() {
	It("parses a bare JSON array", func() {
		candidates, err := parseCandidates(`[{"text":"uses vim","category":"preference","confidence":0.9}]`)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
		Expect(candidates[0].Text).To(Equal("uses vim"))
		Expect(candidates[0].Confidence).To(Equal(0.9))
	})

	It("strips code fences", func() {
		content := "```json\n[{\"text\":\"name is Sam\",\"category\":\"identity\",\"confidence\":0.95}]\n```"
		candidates, err := parseCandidates(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
		Expect(candidates[0].Category).To(Equal("identity"))
	})

	It("finds the array inside surrounding prose", func() {
		content := `Here are the facts: [{"text":"building recall","category":"project","confidence":0.8,"updates_previous":true}] hope that helps!`
		candidates, err := parseCandidates(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
		Expect(candidates[0].UpdatesPrevious).To(BeTrue())
	})

	It("parses an empty array", func() {
		candidates, err := parseCandidates("[]")
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(BeEmpty())
	})

	It("errors when no array is present", func() {
		_, err := parseCandidates("I could not find any facts.")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("pullProgress", func() {
	It("reports downloads with a completion percentage", func() {
		p := pullProgress("pulling manifest", 200, 50)
		Expect(p.Step).To(Equal(inference.StepDownloading))
		Expect(p.Percentage).To(Equal(25.0))
	})

	It("maps verify and write statuses to compiling", func() {
		Expect(pullProgress("verifying sha256 digest", 0, 0).Step).To(Equal(inference.StepCompiling))
		Expect(pullProgress("writing manifest", 0, 0).Step).To(Equal(inference.StepCompiling))
	})

	It("treats success as ready at 100%", func() {
		p := pullProgress("success", 0, 0)
		Expect(p.Step).To(Equal(inference.StepReady))
		Expect(p.Percentage).To(Equal(100.0))
	})
})
