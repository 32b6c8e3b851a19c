package reactions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gallerist/gallerist/internal/cache"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/payload"
)

type fakeAPI struct {
	token string

	snapshot *github.DiscussionReactions
	fetchErr error
	fetches  int

	added    []string
	removed  []string
	heartErr error
}

func (f *fakeAPI) DiscussionReactions(context.Context, string, string) (*github.DiscussionReactions, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.snapshot, nil
}

func (f *fakeAPI) AddHeart(_ context.Context, subjectID string) error {
	if f.heartErr != nil {
		return f.heartErr
	}
	f.added = append(f.added, subjectID)
	return nil
}

func (f *fakeAPI) RemoveHeart(_ context.Context, subjectID string) error {
	if f.heartErr != nil {
		return f.heartErr
	}
	f.removed = append(f.removed, subjectID)
	return nil
}

type fakeStore struct {
	session string
	cleared bool
}

func (f *fakeStore) Session() (string, bool) { return f.session, f.session != "" }
func (f *fakeStore) ClearSession()           { f.session = ""; f.cleared = true }

type fakeExchanger struct {
	token string
	err   error
}

func (f *fakeExchanger) Exchange(context.Context, string) (string, error) {
	return f.token, f.err
}

type memCache struct {
	entries     map[cache.Key]*github.DiscussionReactions
	invalidated []cache.Key
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[cache.Key]*github.DiscussionReactions)}
}

func (m *memCache) Get(key cache.Key) (*github.DiscussionReactions, bool) {
	snap, ok := m.entries[key]
	return snap, ok
}

func (m *memCache) Set(key cache.Key, snap *github.DiscussionReactions) error {
	m.entries[key] = snap
	return nil
}

func (m *memCache) Invalidate(key cache.Key) error {
	delete(m.entries, key)
	m.invalidated = append(m.invalidated, key)
	return nil
}

func (m *memCache) Clear() error {
	m.entries = make(map[cache.Key]*github.DiscussionReactions)
	return nil
}

func testPage() Page {
	return Page{
		Payload: payload.Payload{
			Repo:             "owner/photos",
			DiscussionTerm:   "[Masonry] iceland-2024",
			DiscussionNumber: 42,
			Images: map[string]payload.ImageRef{
				"iceland/sunset.jpg":  {CommentID: "C_1"},
				"iceland/glacier.jpg": {CommentID: "C_2"},
			},
		},
		URL: "https://photos.example.com/iceland-2024/",
	}
}

func testSnapshot() *github.DiscussionReactions {
	return &github.DiscussionReactions{
		DiscussionID: "D_1",
		Number:       42,
		Comments: []github.ReactionComment{
			{ID: "C_1", HeartCount: 5, ViewerHasReacted: true},
			{ID: "C_2", HeartCount: 0, ViewerHasReacted: false},
		},
	}
}

var renderedURLs = []string{
	"https://photos.example.com/img/iceland/sunset.webp?v=3",
	"https://photos.example.com/img/iceland/glacier.jpg",
	"https://photos.example.com/img/unrelated/banner.png",
}

func newTestClient(api *fakeAPI, store *fakeStore, exch *fakeExchanger, c cache.Cacher) *Client {
	return NewClient(func(token string) API {
		api.token = token
		return api
	}, exch, store, c)
}

func TestAnonymousReadShowsCountsWithoutViewerFlags(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{}, &fakeExchanger{}, newMemCache())

	state := client.Init(context.Background(), testPage(), renderedURLs)
	if state != StateDataLoaded {
		t.Fatalf("state = %v, want data-loaded", state)
	}
	if client.Authenticated() {
		t.Fatal("no session should mean anonymous")
	}
	if api.token != "" {
		t.Errorf("anonymous fetch used token %q", api.token)
	}

	buttons := client.Buttons()
	if len(buttons) != 2 {
		t.Fatalf("buttons = %d, want 2 (unrelated image skipped)", len(buttons))
	}
	for _, b := range buttons {
		if b.ViewerHasReacted {
			t.Errorf("anonymous viewer must not inherit reacted flag on %s", b.ImageID)
		}
	}
	if b, _ := client.Button("iceland/sunset.jpg"); b.HeartCount != 5 || b.CommentID != "C_1" {
		t.Errorf("sunset button = %+v", b)
	}
}

func TestAnonymousClickRedirectsToAuthorize(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{}, &fakeExchanger{}, newMemCache())
	client.Init(context.Background(), testPage(), renderedURLs)

	err := client.Toggle(context.Background(), "iceland/sunset.jpg")
	lre, ok := IsLoginRequired(err)
	if !ok {
		t.Fatalf("err = %v, want LoginRequiredError", err)
	}
	if !strings.Contains(lre.AuthorizeURL, "redirect_uri=") ||
		!strings.Contains(lre.AuthorizeURL, "photos.example.com%2Ficeland-2024") {
		t.Errorf("authorize url = %q", lre.AuthorizeURL)
	}
	if len(api.added)+len(api.removed) != 0 {
		t.Error("anonymous click must not issue a mutation")
	}
}

func TestAuthenticatedToggleAndInvalidate(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	store := &fakeStore{session: "sess-1"}
	mc := newMemCache()
	client := newTestClient(api, store, &fakeExchanger{token: "tok-1"}, mc)

	client.Init(context.Background(), testPage(), renderedURLs)
	if !client.Authenticated() {
		t.Fatal("exchange should authenticate")
	}
	if api.token != "tok-1" {
		t.Errorf("fetch used token %q, want tok-1", api.token)
	}

	// Authenticated snapshot carries the viewer flag.
	b, _ := client.Button("iceland/sunset.jpg")
	if !b.ViewerHasReacted {
		t.Fatal("authenticated viewer should see reacted flag")
	}

	if err := client.Toggle(context.Background(), "iceland/sunset.jpg"); err != nil {
		t.Fatal(err)
	}
	b, _ = client.Button("iceland/sunset.jpg")
	if b.ViewerHasReacted || b.HeartCount != 4 {
		t.Errorf("after un-heart: %+v", b)
	}
	if len(api.removed) != 1 || api.removed[0] != "C_1" {
		t.Errorf("removed = %v", api.removed)
	}
	if len(mc.invalidated) != 1 {
		t.Errorf("successful toggle should invalidate cache, got %v", mc.invalidated)
	}

	if err := client.Toggle(context.Background(), "iceland/glacier.jpg"); err != nil {
		t.Fatal(err)
	}
	if b, _ := client.Button("iceland/glacier.jpg"); !b.ViewerHasReacted || b.HeartCount != 1 {
		t.Errorf("after heart: %+v", b)
	}
	if len(api.added) != 1 || api.added[0] != "C_2" {
		t.Errorf("added = %v", api.added)
	}
}

func TestOptimisticRevertOnFailure(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{session: "sess-1"}, &fakeExchanger{token: "tok-1"}, newMemCache())
	client.Init(context.Background(), testPage(), renderedURLs)

	before, _ := client.Button("iceland/sunset.jpg")
	api.heartErr = errors.New("mutation rejected")

	err := client.Toggle(context.Background(), "iceland/sunset.jpg")
	if err == nil {
		t.Fatal("expected toggle failure")
	}

	after, _ := client.Button("iceland/sunset.jpg")
	if after.HeartCount != before.HeartCount || after.ViewerHasReacted != before.ViewerHasReacted {
		t.Errorf("button not reverted: before %+v, after %+v", before, after)
	}
	if after.InFlight {
		t.Error("in-flight flag should clear after failure")
	}
}

func TestInFlightClickIgnored(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{session: "sess-1"}, &fakeExchanger{token: "tok-1"}, newMemCache())
	client.Init(context.Background(), testPage(), renderedURLs)

	// Simulate a pending toggle by blocking inside the mutation.
	release := make(chan struct{})
	blocked := &blockingAPI{fakeAPI: api, entered: make(chan struct{}), release: release}
	client.newAPI = func(string) API { return blocked }

	done := make(chan error, 1)
	go func() { done <- client.Toggle(context.Background(), "iceland/sunset.jpg") }()
	<-blocked.entered

	// Second click while the first is pending: silently dropped.
	if err := client.Toggle(context.Background(), "iceland/sunset.jpg"); err != nil {
		t.Fatalf("in-flight click: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(api.removed) != 1 {
		t.Errorf("removed = %v, want exactly one mutation", api.removed)
	}
}

type blockingAPI struct {
	*fakeAPI
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingAPI) RemoveHeart(ctx context.Context, subjectID string) error {
	if !b.once {
		b.once = true
		close(b.entered)
		<-b.release
	}
	return b.fakeAPI.RemoveHeart(ctx, subjectID)
}

func TestSignOutRevertsViewerFlags(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	store := &fakeStore{session: "sess-1"}
	client := newTestClient(api, store, &fakeExchanger{token: "tok-1"}, newMemCache())
	client.Init(context.Background(), testPage(), renderedURLs)

	client.SignOut()

	if client.Authenticated() {
		t.Error("token should be dropped")
	}
	if !store.cleared {
		t.Error("stored session should be cleared")
	}
	for _, b := range client.Buttons() {
		if b.ViewerHasReacted {
			t.Errorf("reacted flag survived sign-out on %s", b.ImageID)
		}
	}
	if _, ok := IsLoginRequired(client.Toggle(context.Background(), "iceland/sunset.jpg")); !ok {
		t.Error("post-sign-out click should prompt login")
	}
}

func TestFailedExchangeDegradesToAnonymous(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{session: "sess-1"}, &fakeExchanger{err: errors.New("expired")}, newMemCache())

	state := client.Init(context.Background(), testPage(), renderedURLs)
	if state != StateDataLoaded {
		t.Fatalf("state = %v", state)
	}
	if client.Authenticated() {
		t.Error("failed exchange should leave client anonymous")
	}
	if api.token != "" {
		t.Errorf("fetch used token %q", api.token)
	}
}

func TestFetchFailureLeavesAuthState(t *testing.T) {
	// With no cache and a failing fetch there is no data to apply, so the
	// client must settle in the state authentication produced, not
	// data-loaded, and buttons keep their zero counts.
	api := &fakeAPI{fetchErr: errors.New("api down")}
	client := newTestClient(api, &fakeStore{}, &fakeExchanger{}, newMemCache())

	state := client.Init(context.Background(), testPage(), renderedURLs)
	if state != StateAnonymous {
		t.Fatalf("state = %v, want anonymous", state)
	}
	if b, ok := client.Button("iceland/sunset.jpg"); !ok || b.HeartCount != 0 {
		t.Errorf("button = %+v", b)
	}

	// Same failure while authenticated settles in authenticated.
	client = newTestClient(api, &fakeStore{session: "s"}, &fakeExchanger{token: "tok"}, newMemCache())
	if state := client.Init(context.Background(), testPage(), renderedURLs); state != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", state)
	}

	// A failed exchange passes through authenticating and lands anonymous.
	client = newTestClient(api, &fakeStore{session: "s"}, &fakeExchanger{err: errors.New("expired")}, newMemCache())
	if state := client.Init(context.Background(), testPage(), renderedURLs); state != StateAnonymous {
		t.Errorf("state = %v, want anonymous after failed exchange", state)
	}
}

func TestAnonymousCacheHitSkipsFetch(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	mc := newMemCache()
	page := testPage()
	key := cache.Key{RepoFullName: page.Payload.Repo, DiscussionTerm: page.Payload.DiscussionTerm}
	mc.Set(key, testSnapshot())

	client := newTestClient(api, &fakeStore{}, &fakeExchanger{}, mc)
	client.Init(context.Background(), page, renderedURLs)

	if api.fetches != 0 {
		t.Errorf("anonymous cache hit still fetched %d times", api.fetches)
	}
	if b, _ := client.Button("iceland/sunset.jpg"); b.HeartCount != 5 {
		t.Errorf("cached counts not applied: %+v", b)
	}
}

func TestAuthenticatedRefreshesDespiteCacheHit(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	mc := newMemCache()
	page := testPage()
	key := cache.Key{RepoFullName: page.Payload.Repo, DiscussionTerm: page.Payload.DiscussionTerm}

	stale := testSnapshot()
	stale.Comments[0].HeartCount = 1
	stale.Comments[0].ViewerHasReacted = false
	mc.Set(key, stale)

	client := newTestClient(api, &fakeStore{session: "s"}, &fakeExchanger{token: "tok"}, mc)
	client.Init(context.Background(), page, renderedURLs)

	if api.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (cached data lacks viewer flags)", api.fetches)
	}
	if b, _ := client.Button("iceland/sunset.jpg"); b.HeartCount != 5 || !b.ViewerHasReacted {
		t.Errorf("live data not applied over cache: %+v", b)
	}
	// The authenticated snapshot must not be written back to the shared cache.
	if snap, ok := mc.Get(key); ok && snap.Comments[0].ViewerHasReacted {
		t.Error("viewer-scoped snapshot leaked into cache")
	}
}

func TestReinitDiscardsStaleGeneration(t *testing.T) {
	api := &fakeAPI{snapshot: testSnapshot()}
	client := newTestClient(api, &fakeStore{}, &fakeExchanger{}, newMemCache())
	client.Init(context.Background(), testPage(), renderedURLs)

	// Navigate to a different page; a straggler apply for the old page's
	// generation must not disturb the new buttons.
	second := testPage()
	second.Payload.DiscussionTerm = "[Masonry] city-nights"
	second.Payload.Images = map[string]payload.ImageRef{"city/neon.jpg": {CommentID: "C_9"}}
	api.snapshot = &github.DiscussionReactions{
		Comments: []github.ReactionComment{{ID: "C_9", HeartCount: 2}},
	}
	client.Init(context.Background(), second, []string{"https://photos.example.com/img/city/neon.jpg"})

	client.apply(1, testSnapshot(), false) // stale generation

	buttons := client.Buttons()
	if len(buttons) != 1 || buttons[0].ImageID != "city/neon.jpg" || buttons[0].HeartCount != 2 {
		t.Errorf("buttons after re-init = %+v", buttons)
	}
}
