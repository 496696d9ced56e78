package dotdir_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/dotdir"
)

func TestDotdir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dotdir Suite")
}

var _ = Describe("Manager", func() {
	var (
		m      *dotdir.Manager
		tmpDir string
	)

	BeforeEach(func() {
		m = dotdir.NewManager()
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Target", func() {
		It("uses and creates the override directory when provided", func() {
			override := filepath.Join(tmpDir, "custom")

			target, err := m.Target(override)
			Expect(err).NotTo(HaveOccurred())
			Expect(target).To(Equal(override))

			info, err := os.Stat(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})
	})

	Describe("DatabasePath", func() {
		It("points inside the target directory", func() {
			path, err := m.DatabasePath(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join(tmpDir, "recall.db")))
		})
	})

	Describe("session state", func() {
		It("returns nil when no session exists", func() {
			state, err := m.LoadSessionState(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("round-trips session state", func() {
			saved := &dotdir.SessionState{
				ConversationID: "c1",
				ModelID:        "llama3.2",
			}
			Expect(m.SaveSession(saved, tmpDir)).To(Succeed())

			loaded, err := m.LoadSessionState(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(saved))
		})

		It("rejects nil session state", func() {
			Expect(m.SaveSession(nil, tmpDir)).NotTo(Succeed())
		})

		It("clears sessions idempotently", func() {
			Expect(m.SaveSession(&dotdir.SessionState{ConversationID: "c1"}, tmpDir)).To(Succeed())
			Expect(m.ClearSession(tmpDir)).To(Succeed())
			Expect(m.ClearSession(tmpDir)).To(Succeed())

			state, err := m.LoadSessionState(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})
	})
})
