package packagecache_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/packagecache"
	"basegraph.app/localizer/internal/store"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]model.PackageDetails
	puts    int
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]model.PackageDetails)}
}

func (m *memoryStore) Get(_ context.Context, project, pkg string) (model.PackageDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.entries[project+"/"+pkg]
	if !ok {
		return model.PackageDetails{}, store.ErrNotFound
	}
	return d, nil
}

func (m *memoryStore) Put(_ context.Context, project string, d model.PackageDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.entries[project+"/"+d.Package] = d
	return nil
}

func (m *memoryStore) Delete(_ context.Context, project, pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, project+"/"+pkg)
	return nil
}

func (m *memoryStore) ListPackages(_ context.Context, project string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, d := range m.entries {
		out = append(out, d.Package)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) has(project, pkg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[project+"/"+pkg]
	return ok
}

func byteCount(text string) int { return len(text) }

var _ = Describe("Cache", func() {
	var (
		ctx   context.Context
		st    *memoryStore
		cache *packagecache.Cache
		calls atomic.Int32
		build packagecache.BuildFunc
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = newMemoryStore()
		cache = packagecache.New("proj", st, byteCount)
		calls.Store(0)
		build = func(_ context.Context, pkg string) (string, error) {
			calls.Add(1)
			return "details of " + pkg, nil
		}
	})

	Describe("GetOrBuild", func() {
		It("builds once and serves later calls from the store", func() {
			first, err := cache.GetOrBuild(ctx, "retrieval", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Text).To(Equal("details of retrieval"))
			Expect(first.TokenCount).To(Equal(len("details of retrieval")))
			Expect(first.CachedAt).NotTo(BeZero())

			second, err := cache.GetOrBuild(ctx, "retrieval", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("returns a BuildError and stores nothing when the builder fails", func() {
			boom := errors.New("generator offline")
			_, err := cache.GetOrBuild(ctx, "retrieval", func(context.Context, string) (string, error) {
				return "", boom
			})

			var buildErr *packagecache.BuildError
			Expect(errors.As(err, &buildErr)).To(BeTrue())
			Expect(buildErr.Package).To(Equal("retrieval"))
			Expect(errors.Is(err, boom)).To(BeTrue())
			Expect(st.has("proj", "retrieval")).To(BeFalse())
		})

		It("still returns details when storing them fails", func() {
			st.putErr = errors.New("disk full")
			d, err := cache.GetOrBuild(ctx, "retrieval", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Text).To(Equal("details of retrieval"))
			Expect(st.has("proj", "retrieval")).To(BeFalse())
		})

		It("runs one build for concurrent callers of the same package", func() {
			release := make(chan struct{})
			slow := func(_ context.Context, pkg string) (string, error) {
				calls.Add(1)
				<-release
				return "details of " + pkg, nil
			}

			var wg sync.WaitGroup
			results := make([]model.PackageDetails, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					d, err := cache.GetOrBuild(ctx, "retrieval", slow)
					Expect(err).NotTo(HaveOccurred())
					results[i] = d
				}(i)
			}

			Eventually(calls.Load).Should(Equal(int32(1)))
			// Give late arrivals time to join the in-flight build.
			time.Sleep(20 * time.Millisecond)
			close(release)
			wg.Wait()

			Expect(calls.Load()).To(Equal(int32(1)))
			for _, d := range results {
				Expect(d.Text).To(Equal("details of retrieval"))
			}
			Expect(st.puts).To(Equal(1))
		})

		It("finishes a shared build for joined callers after the first caller cancels", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			slow := func(bctx context.Context, pkg string) (string, error) {
				calls.Add(1)
				close(started)
				select {
				case <-bctx.Done():
					return "", bctx.Err()
				case <-release:
					return "details of " + pkg, nil
				}
			}

			firstCtx, cancel := context.WithCancel(ctx)
			first := make(chan error, 1)
			go func() {
				_, err := cache.GetOrBuild(firstCtx, "retrieval", slow)
				first <- err
			}()
			Eventually(started).Should(BeClosed())

			second := make(chan model.PackageDetails, 1)
			go func() {
				defer GinkgoRecover()
				d, err := cache.GetOrBuild(context.Background(), "retrieval", slow)
				Expect(err).NotTo(HaveOccurred())
				second <- d
			}()
			// Give the second caller time to join the in-flight build.
			time.Sleep(20 * time.Millisecond)

			cancel()
			var err error
			Eventually(first).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))

			close(release)
			var d model.PackageDetails
			Eventually(second).Should(Receive(&d))
			Expect(d.Text).To(Equal("details of retrieval"))
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(st.has("proj", "retrieval")).To(BeTrue())
		})

		It("bounds a detached build by the build timeout", func() {
			cache = packagecache.New("proj", st, byteCount, packagecache.WithBuildTimeout(20*time.Millisecond))
			_, err := cache.GetOrBuild(ctx, "retrieval", func(bctx context.Context, _ string) (string, error) {
				<-bctx.Done()
				return "", bctx.Err()
			})

			var buildErr *packagecache.BuildError
			Expect(errors.As(err, &buildErr)).To(BeTrue())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("does not block builds of different packages on each other", func() {
			release := make(chan struct{})
			blocking := func(_ context.Context, pkg string) (string, error) {
				<-release
				return pkg, nil
			}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				_, _ = cache.GetOrBuild(ctx, "slow", blocking)
				close(done)
			}()

			d, err := cache.GetOrBuild(ctx, "fast", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Text).To(Equal("details of fast"))

			close(release)
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Invalidate", func() {
		It("forces a rebuild on the next call", func() {
			_, err := cache.GetOrBuild(ctx, "retrieval", build)
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Invalidate(ctx, "retrieval")).To(Succeed())
			Expect(st.has("proj", "retrieval")).To(BeFalse())

			_, err = cache.GetOrBuild(ctx, "retrieval", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(2)))
		})

		It("keeps a build that was in flight from being stored", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			slow := func(_ context.Context, pkg string) (string, error) {
				close(started)
				<-release
				return "stale", nil
			}

			done := make(chan model.PackageDetails)
			go func() {
				defer GinkgoRecover()
				d, err := cache.GetOrBuild(ctx, "retrieval", slow)
				Expect(err).NotTo(HaveOccurred())
				done <- d
			}()

			Eventually(started).Should(BeClosed())
			Expect(cache.Invalidate(ctx, "retrieval")).To(Succeed())
			close(release)

			var d model.PackageDetails
			Eventually(done).Should(Receive(&d))
			Expect(d.Text).To(Equal("stale"))
			Expect(st.has("proj", "retrieval")).To(BeFalse())
		})

		It("is a no-op for unknown packages", func() {
			Expect(cache.Invalidate(ctx, "never-built")).To(Succeed())
		})
	})

	Describe("ListKeys", func() {
		It("lists cached packages", func() {
			_, _ = cache.GetOrBuild(ctx, "b", build)
			_, _ = cache.GetOrBuild(ctx, "a", build)

			keys, err := cache.ListKeys(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]string{"a", "b"}))
		})
	})
})
