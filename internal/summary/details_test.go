package summary_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/summary"
)

var _ = Describe("DirDetailsBuilder", func() {
	var (
		ctx     context.Context
		builder *summary.DirDetailsBuilder
	)

	BeforeEach(func() {
		ctx = context.Background()
		root := GinkgoT().TempDir()

		write := func(rel, body string) {
			path := filepath.Join(root, filepath.FromSlash(rel))
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		}
		write("main.py.md", "### File Summary\nEntry point.")
		write("localize/hierarchical.py.md", "# Hierarchical\nRanks packages.\n```\n# not a heading\n```")
		write("localize/strategies/vector.py.md", "## Vector\nSearch.")

		builder = summary.NewDirDetailsBuilder(model.Project{
			Name:       "repo",
			SrcFolder:  "se_agent",
			DetailsDir: root,
		})
	})

	It("nests files and sub-packages under the package heading", func() {
		doc, err := builder.Build(ctx, "localize")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(Equal("# localize\n\n" +
			"## hierarchical.py\n\n" +
			"### Hierarchical\nRanks packages.\n```\n# not a heading\n```\n\n" +
			"## localize.strategies\n\n" +
			"### vector.py\n\n" +
			"##### Vector\nSearch.\n"))
	})

	It("covers only top-level files for the root package", func() {
		doc, err := builder.Build(ctx, "se_agent")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(Equal("# se_agent\n\n## main.py\n\n##### File Summary\nEntry point.\n"))
	})

	It("builds a nested package on its own", func() {
		doc, err := builder.Build(ctx, "localize.strategies")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(HavePrefix("# localize.strategies\n\n## vector.py\n\n#### Vector"))
	})

	It("fails for a package without details", func() {
		_, err := builder.Build(ctx, "missing")
		Expect(err).To(HaveOccurred())
		Expect(err).To(MatchError(fs.ErrNotExist))
	})

	It("reads a single file description", func() {
		text, err := builder.File("localize/hierarchical.py")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(HavePrefix("# Hierarchical"))
	})
})

var _ = Describe("ShiftHeaders", func() {
	It("leaves fenced code and plain lines alone", func() {
		in := "# A\ntext # not heading\n```md\n# inside\n```\n## B"
		Expect(summary.ShiftHeaders(in, 2)).To(Equal("### A\ntext # not heading\n```md\n# inside\n```\n#### B"))
	})

	It("is a no-op for a zero shift", func() {
		Expect(summary.ShiftHeaders("# A", 0)).To(Equal("# A"))
	})
})
