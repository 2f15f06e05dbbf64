package issuesource_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/internal/issuesource"
)

type gitlabNote struct {
	ID        int64        `json:"id"`
	Body      string       `json:"body"`
	System    bool         `json:"system"`
	Author    gitlabAuthor `json:"author"`
	CreatedAt string       `json:"created_at,omitempty"`
}

type gitlabAuthor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type gitlabAPIMock struct {
	server   *httptest.Server
	notes    []gitlabNote
	perPage  int
	requests []string
}

func (m *gitlabAPIMock) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/projects/42/issues/7", func(w http.ResponseWriter, r *http.Request) {
		m.requests = append(m.requests, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          1007,
			"iid":         7,
			"title":       "fix vectorized retrieval",
			"description": "retrieval returns stale vectors",
		})
	})
	mux.HandleFunc("GET /api/v4/projects/42/issues/7/notes", func(w http.ResponseWriter, r *http.Request) {
		m.requests = append(m.requests, r.URL.RequestURI())
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		start := (page - 1) * m.perPage
		end := min(start+m.perPage, len(m.notes))
		if start >= len(m.notes) {
			_ = json.NewEncoder(w).Encode([]gitlabNote{})
			return
		}
		if end < len(m.notes) {
			w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
		}
		_ = json.NewEncoder(w).Encode(m.notes[start:end])
	})
	m.server = httptest.NewServer(mux)
}

var _ = Describe("GitLab", func() {
	var (
		ctx  context.Context
		mock *gitlabAPIMock
		src  *issuesource.GitLab
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = &gitlabAPIMock{perPage: 2}
		mock.notes = []gitlabNote{
			{ID: 1, Body: "happens on every query", Author: gitlabAuthor{ID: 3, Username: "alice"}, CreatedAt: "2026-01-02T10:00:00Z"},
			{ID: 2, Body: "added label ~bug", System: true, Author: gitlabAuthor{ID: 3, Username: "alice"}},
			{ID: 3, Body: "<!-- SE Agent --> look at retrieval/index.py", Author: gitlabAuthor{ID: 9}},
			{ID: 4, Body: "   ", Author: gitlabAuthor{ID: 3, Username: "alice"}},
			{ID: 5, Body: "still broken", Author: gitlabAuthor{ID: 4, Username: "bob"}},
		}
		mock.start()
		DeferCleanup(mock.server.Close)

		var err error
		src, err = issuesource.NewGitLab(mock.server.URL+"/", "token")
		Expect(err).NotTo(HaveOccurred())
	})

	It("normalizes the issue and its notes across pages", func() {
		issue, err := src.FetchIssue(ctx, "42", 7)
		Expect(err).NotTo(HaveOccurred())

		Expect(issue.ID).To(Equal("7"))
		Expect(issue.Title).To(Equal("fix vectorized retrieval"))
		Expect(issue.Description).To(Equal("retrieval returns stale vectors"))

		bodies := make([]string, 0, len(issue.Comments))
		for _, c := range issue.Comments {
			bodies = append(bodies, c.Body)
		}
		Expect(bodies).To(Equal([]string{
			"happens on every query",
			"<!-- SE Agent --> look at retrieval/index.py",
			"still broken",
		}))
		Expect(issue.Comments[0].ID).To(Equal("1"))
		Expect(issue.Comments[0].Author).To(Equal("alice"))
		Expect(issue.Comments[0].CreatedAt.IsZero()).To(BeFalse())
		Expect(issue.Comments[1].Author).To(Equal("id:9"))
	})

	It("requests notes oldest first", func() {
		_, err := src.FetchIssue(ctx, "42", 7)
		Expect(err).NotTo(HaveOccurred())

		Expect(mock.requests).To(ContainElement(And(
			ContainSubstring("/notes?"),
			ContainSubstring("order_by=created_at"),
			ContainSubstring("sort=asc"),
		)))
	})

	It("reports a missing issue", func() {
		_, err := src.FetchIssue(ctx, "42", 8)
		Expect(err).To(MatchError(issuesource.ErrIssueNotFound))
	})

	It("feeds an empty thread as an issue without comments", func() {
		mock.notes = nil

		issue, err := src.FetchIssue(ctx, "42", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(issue.Comments).To(BeEmpty())
	})
})
