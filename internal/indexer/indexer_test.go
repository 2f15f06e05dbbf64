package indexer_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/internal/indexer"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/vectorindex"
)

func writeFile(root, rel, content string) {
	p := filepath.Join(root, filepath.FromSlash(rel))
	Expect(os.MkdirAll(filepath.Dir(p), 0o755)).To(Succeed())
	Expect(os.WriteFile(p, []byte(content), 0o644)).To(Succeed())
}

var _ = Describe("Indexer", func() {
	var (
		ctx   context.Context
		repo  string
		proj  model.Project
		index *vectorindex.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = GinkgoT().TempDir()
		details := GinkgoT().TempDir()

		writeFile(repo, "src/main.py", "def main(): pass\n")
		writeFile(repo, "src/retrieval/index.py", "def build_index(): pass\n")
		writeFile(repo, "src/retrieval/empty.py", "  \n")
		writeFile(repo, "src/retrieval/README.md", "notes\n")
		writeFile(repo, "src/.cache/stale.py", "x = 1\n")
		writeFile(repo, "docs/guide.py", "outside = True\n")

		writeFile(details, "main.py.md", "Entry point.\n")
		writeFile(details, "retrieval/index.py.md", "Builds the vector index.\n")

		proj = model.Project{
			Name:       "se-agent",
			RepoDir:    repo,
			SrcFolder:  "src",
			DetailsDir: details,
			VectorType: model.VectorTypeCode,
		}
		index = vectorindex.NewMemory("se_agent", vectorindex.NewHashEmbedder(0))
	})

	ids := func() []string {
		results, err := index.Query(ctx, "anything", 100)
		Expect(err).NotTo(HaveOccurred())
		out := make([]string, 0, len(results))
		for _, r := range results {
			out = append(out, r.Document.ID)
		}
		return out
	}

	It("indexes source files for the code vector type", func() {
		stats, err := indexer.New(proj, index).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Indexed).To(Equal(2))
		Expect(stats.Skipped).To(Equal(2))
		Expect(stats.Failed).To(BeZero())
		Expect(ids()).To(ConsistOf("src/main.py", "src/retrieval/index.py"))
	})

	It("indexes file descriptions for the semantic summary vector type", func() {
		proj.VectorType = model.VectorTypeSemanticSummary

		stats, err := indexer.New(proj, index).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Indexed).To(Equal(2))

		results, err := index.Query(ctx, "Builds the vector index.", 1)
		Expect(err).NotTo(HaveOccurred())
		doc := results[0].Document
		Expect(doc.ID).To(Equal("src/retrieval/index.py"))
		Expect(doc.Content).To(Equal("Builds the vector index.\n"))
		Expect(doc.Metadata).To(Equal(model.VectorMetadata{
			FilePath:   "src/retrieval/index.py",
			Package:    "retrieval",
			VectorType: model.VectorTypeSemanticSummary,
		}))
	})

	It("assigns root files to the root package", func() {
		doc, ok, err := indexer.New(proj, index).Document("src/main.py")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(doc.Metadata.Package).To(Equal("src"))
	})

	It("rejects paths outside the source folder", func() {
		_, _, err := indexer.New(proj, index).Document("docs/guide.py")
		Expect(err).To(MatchError(indexer.ErrOutsideSource))
	})

	It("removes a file that became empty on upsert", func() {
		x := indexer.New(proj, index)
		Expect(x.Upsert(ctx, "src/retrieval/index.py")).To(Succeed())
		Expect(x.Upsert(ctx, "src/main.py")).To(Succeed())

		writeFile(repo, "src/retrieval/index.py", "\n")
		Expect(x.Upsert(ctx, "src/retrieval/index.py")).To(Succeed())
		Expect(ids()).To(ConsistOf("src/main.py"))
	})

	It("honours custom extensions", func() {
		stats, err := indexer.New(proj, index, ".md").Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Indexed).To(Equal(1))
		Expect(ids()).To(ConsistOf("src/retrieval/README.md"))
	})
})
