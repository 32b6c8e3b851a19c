// Package reactions implements the runtime heart-button client: it matches
// rendered gallery images to their backing comments, resolves the viewer's
// identity through the OAuth session exchange, fetches live counts, and
// toggles reactions optimistically.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gallerist/gallerist/internal/cache"
	"github.com/gallerist/gallerist/internal/content"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/payload"
)

// State is the client's position in its per-page lifecycle. Transitions
// are centrally dispatched in Init rather than scattered across handlers
// so re-initialization on navigation is a single entry point.
type State int

const (
	StateUninitialized State = iota
	StateButtonsRendered
	StateAuthenticating
	StateAuthenticated
	StateAnonymous
	StateDataLoaded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateButtonsRendered:
		return "buttons-rendered"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateDataLoaded:
		return "data-loaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Button is the displayable state of one image's heart button.
type Button struct {
	ImageID          string
	CommentID        string
	HeartCount       int
	ViewerHasReacted bool
	// InFlight blocks further toggles for this button until the pending
	// mutation settles.
	InFlight bool
}

// API is the read/write surface the client needs. *github.Client
// satisfies it.
type API interface {
	DiscussionReactions(ctx context.Context, repo, title string) (*github.DiscussionReactions, error)
	AddHeart(ctx context.Context, subjectID string) error
	RemoveHeart(ctx context.Context, subjectID string) error
}

// LoginRequiredError is returned by Toggle for anonymous viewers; callers
// navigate to AuthorizeURL instead of reporting a failure.
type LoginRequiredError struct {
	AuthorizeURL string
}

func (e *LoginRequiredError) Error() string {
	return "login required: " + e.AuthorizeURL
}

// Page is the per-page manifest the client initializes from, normally
// decoded from the generated page payload.
type Page struct {
	Payload payload.Payload
	// URL is the page's own address, used as the post-login return target.
	URL string
}

// Client drives heart buttons for one page view at a time. Init resets it
// completely, so a single long-lived instance survives client-side
// navigation.
type Client struct {
	newAPI    func(token string) API
	exchanger Exchanger
	store     SessionStore
	cache     cache.Cacher
	authorize string

	group singleflight.Group

	mu         sync.Mutex
	state      State
	page       Page
	token      string
	buttons    map[string]*Button // by image id
	byComment  map[string]string  // comment id -> image id
	generation int
}

// Option configures a Client.
type Option func(*Client)

// WithAuthorizeEndpoint overrides the login redirect base.
func WithAuthorizeEndpoint(endpoint string) Option {
	return func(c *Client) { c.authorize = endpoint }
}

// NewClient wires a reaction client. newAPI builds an API bound to a
// bearer token; it is called with "" for anonymous reads.
func NewClient(newAPI func(token string) API, exchanger Exchanger, store SessionStore, cacher cache.Cacher, opts ...Option) *Client {
	c := &Client{
		newAPI:    newAPI,
		exchanger: exchanger,
		store:     store,
		cache:     cacher,
		authorize: DefaultAuthorizeEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init runs the full per-page lifecycle: match rendered image URLs to
// manifest ids, authenticate, and load counts. Calling it again fully
// re-initializes for a new page; any straggler fetch from the previous
// page is discarded by a generation check.
func (c *Client) Init(ctx context.Context, page Page, renderedURLs []string) State {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.page = page
	c.token = ""
	c.buttons = make(map[string]*Button)
	c.byComment = make(map[string]string)
	c.state = StateUninitialized

	ids := make([]string, 0, len(page.Payload.Images))
	for id := range page.Payload.Images {
		ids = append(ids, id)
	}
	for _, rendered := range renderedURLs {
		id, ok := content.MatchImageID(rendered, ids)
		if !ok {
			log.Debug("no manifest image for rendered url", "url", rendered)
			continue
		}
		if _, dup := c.buttons[id]; dup {
			continue
		}
		commentID := page.Payload.Images[id].CommentID
		c.buttons[id] = &Button{ImageID: id, CommentID: commentID}
		c.byComment[commentID] = id
	}
	c.state = StateButtonsRendered
	c.mu.Unlock()

	c.authenticate(ctx)
	c.load(ctx, gen)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// authenticate exchanges a stored session for a token. Absence or failure
// leaves the client anonymous; buttons still show live counts.
func (c *Client) authenticate(ctx context.Context) {
	session, ok := c.store.Session()
	if !ok {
		c.setState(StateAnonymous)
		return
	}

	c.setState(StateAuthenticating)
	token, err := c.exchanger.Exchange(ctx, session)
	if err != nil {
		log.Debug("session exchange failed, staying anonymous", "error", err)
		c.setState(StateAnonymous)
		return
	}

	c.mu.Lock()
	c.token = token
	c.state = StateAuthenticated
	c.mu.Unlock()
}

// load applies cached counts when fresh, then refreshes from the API. An
// authenticated viewer always refreshes even on a cache hit: cached
// anonymous data cannot carry their own reacted flags.
func (c *Client) load(ctx context.Context, gen int) {
	c.mu.Lock()
	key := cache.Key{RepoFullName: c.page.Payload.Repo, DiscussionTerm: c.page.Payload.DiscussionTerm}
	authenticated := c.token != ""
	c.mu.Unlock()

	hit := false
	if snap, ok := c.cache.Get(key); ok {
		c.apply(gen, snap, false)
		hit = true
	}
	if hit && !authenticated {
		return
	}

	if err := c.refresh(ctx, gen, key, authenticated); err != nil {
		log.Debug("reaction fetch failed", "term", key.DiscussionTerm, "error", err)
	}
}

// refresh fetches live data, deduplicating concurrent fetches for the
// same discussion across goroutines.
func (c *Client) refresh(ctx context.Context, gen int, key cache.Key, authenticated bool) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.RepoFullName+"\x00"+key.DiscussionTerm, func() (any, error) {
		return c.newAPI(token).DiscussionReactions(ctx, key.RepoFullName, key.DiscussionTerm)
	})
	if err != nil {
		return err
	}
	snap := v.(*github.DiscussionReactions)

	// Only anonymous snapshots are cached: a token-scoped viewerHasReacted
	// flag must never leak into another viewer's page load.
	if !authenticated {
		if err := c.cache.Set(key, snap); err != nil {
			log.Debug("cache write failed", "error", err)
		}
	}

	c.apply(gen, snap, authenticated)
	return nil
}

// apply folds a snapshot into the buttons, unless the client has since
// re-initialized for another page.
func (c *Client) apply(gen int, snap *github.DiscussionReactions, trustViewerFlags bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}

	for _, comment := range snap.Comments {
		imageID, ok := c.byComment[comment.ID]
		if !ok {
			continue
		}
		b := c.buttons[imageID]
		b.HeartCount = comment.HeartCount
		if trustViewerFlags {
			b.ViewerHasReacted = comment.ViewerHasReacted
		} else {
			b.ViewerHasReacted = false
		}
	}
	c.state = StateDataLoaded
}

// Toggle flips one image's heart. Anonymous viewers get a
// LoginRequiredError carrying the authorize URL. A second click while a
// toggle is in flight is ignored.
func (c *Client) Toggle(ctx context.Context, imageID string) error {
	c.mu.Lock()
	b, ok := c.buttons[imageID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("no button for image %q", imageID)
	}
	if c.token == "" {
		url := AuthorizeURL(c.authorize, c.page.URL)
		c.mu.Unlock()
		return &LoginRequiredError{AuthorizeURL: url}
	}
	if b.InFlight {
		c.mu.Unlock()
		return nil
	}

	// Optimistic flip; reverted below if the mutation fails.
	wasReacted := b.ViewerHasReacted
	wasCount := b.HeartCount
	b.InFlight = true
	if wasReacted {
		b.ViewerHasReacted = false
		b.HeartCount--
	} else {
		b.ViewerHasReacted = true
		b.HeartCount++
	}
	token := c.token
	commentID := b.CommentID
	key := cache.Key{RepoFullName: c.page.Payload.Repo, DiscussionTerm: c.page.Payload.DiscussionTerm}
	c.mu.Unlock()

	api := c.newAPI(token)
	var err error
	if wasReacted {
		err = api.RemoveHeart(ctx, commentID)
	} else {
		err = api.AddHeart(ctx, commentID)
	}

	c.mu.Lock()
	b.InFlight = false
	if err != nil {
		b.ViewerHasReacted = wasReacted
		b.HeartCount = wasCount
		c.mu.Unlock()
		return fmt.Errorf("toggle %s: %w", imageID, err)
	}
	c.mu.Unlock()

	if cerr := c.cache.Invalidate(key); cerr != nil {
		log.Debug("cache invalidate failed", "error", cerr)
	}
	return nil
}

// SignOut handles the widget's sign-out signal: the token is dropped and
// every button's reacted flag reverts to the anonymous view.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.token = ""
	for _, b := range c.buttons {
		b.ViewerHasReacted = false
	}
	if c.state == StateAuthenticated || c.state == StateDataLoaded {
		c.state = StateAnonymous
	}
	c.mu.Unlock()

	c.store.ClearSession()
}

// Authenticated reports whether the viewer holds a token.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Buttons returns a stable-ordered copy of the current button states.
func (c *Client) Buttons() []Button {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Button, 0, len(c.buttons))
	for _, b := range c.buttons {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out
}

// Button returns one image's button state.
func (c *Client) Button(imageID string) (Button, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buttons[imageID]
	if !ok {
		return Button{}, false
	}
	return *b, true
}

// IsLoginRequired reports whether err is the anonymous-click redirect.
func IsLoginRequired(err error) (*LoginRequiredError, bool) {
	var lre *LoginRequiredError
	if errors.As(err, &lre) {
		return lre, true
	}
	return nil, false
}
