package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidautoweb/post-generator-service/internal/assistant"
	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/posts"
	"github.com/bidautoweb/post-generator-service/internal/pricing"
)

type fakeCatalog struct {
	mu           sync.Mutex
	pages        []catalog.SearchPage
	searchErr    error
	errOnPage    int
	pagesFetched []int
	avgPrice     *int64
	avgErr       error
}

func (c *fakeCatalog) SearchLots(ctx context.Context, filters catalog.Filters, page int) (*catalog.SearchPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pagesFetched = append(c.pagesFetched, page)
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	if c.errOnPage != 0 && page == c.errOnPage {
		return nil, errors.New("catalog page fetch failed")
	}
	if page < 1 || page > len(c.pages) {
		return &catalog.SearchPage{Pagination: catalog.Pagination{Page: page, Pages: len(c.pages)}}, nil
	}
	result := c.pages[page-1]
	result.Pagination = catalog.Pagination{Page: page, Pages: len(c.pages)}
	return &result, nil
}

func (c *fakeCatalog) AveragePrice(ctx context.Context, make, model string, yearFrom, yearTo int) (*int64, error) {
	if c.avgErr != nil {
		return nil, c.avgErr
	}
	return c.avgPrice, nil
}

type fakePricing struct {
	mu      sync.Mutex
	failFor map[int64]struct{}
	calls   int
}

func (p *fakePricing) QuoteForLot(ctx context.Context, lot catalog.Lot) (*pricing.Quote, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if _, ok := p.failFor[lot.LotID]; ok {
		return nil, &pricing.RemoteError{Message: "no pricing data"}
	}
	return &pricing.Quote{DeliveryPrice: 400, ShippingPrice: 1100}, nil
}

type fakeAssistant struct {
	shortlistIDs []int64
	shortlistErr error
	finalizeIDs  []int64
	finalizeErr  error
	imageFailFor map[int64]struct{}
}

func (a *fakeAssistant) Shortlist(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error) {
	if a.shortlistErr != nil {
		return nil, a.shortlistErr
	}
	return a.shortlistIDs, nil
}

func (a *fakeAssistant) Finalize(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error) {
	if a.finalizeErr != nil {
		return nil, a.finalizeErr
	}
	return a.finalizeIDs, nil
}

func (a *fakeAssistant) DescribeImages(ctx context.Context, reqs []assistant.ImageRequest, timeout time.Duration) []assistant.ImageResult {
	results := make([]assistant.ImageResult, len(reqs))
	for i, req := range reqs {
		results[i] = assistant.ImageResult{LotID: req.LotID}
		if _, ok := a.imageFailFor[req.LotID]; ok {
			results[i].Err = errors.New("image call timed out")
			continue
		}
		results[i].Description = fmt.Sprintf("clean body, lot %d", req.LotID)
		results[i].ConditionScore = 8
	}
	return results
}

type publishedEvent struct {
	routingKey string
	payload    interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (e *fakeEvents) PublishEvent(ctx context.Context, routingKey string, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (e *fakeEvents) byKey(routingKey string) []publishedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []publishedEvent
	for _, ev := range e.events {
		if ev.routingKey == routingKey {
			out = append(out, ev)
		}
	}
	return out
}

type fakeGate struct {
	mu        sync.Mutex
	seenLots  map[int64]struct{}
	posts     map[int64]*posts.Post
	nextID    int64
	upsertErr error
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		seenLots: make(map[int64]struct{}),
		posts:    make(map[int64]*posts.Post),
	}
}

func (g *fakeGate) CreateRequest(ctx context.Context, req *posts.RequestFilters) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	req.ID = g.nextID
	req.CreatedAt = time.Now()
	return nil
}

func (g *fakeGate) ListingsAlreadySeen(ctx context.Context, lotIDs []int64) (map[int64]struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[int64]struct{})
	for _, id := range lotIDs {
		if _, ok := g.seenLots[id]; ok {
			seen[id] = struct{}{}
		}
	}
	return seen, nil
}

func (g *fakeGate) UpsertPost(ctx context.Context, post *posts.Post) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return g.upsertErr
	}
	for _, existing := range g.posts {
		if existing.RequestID == post.RequestID && existing.LotID == post.LotID {
			post.ID = existing.ID
			return nil
		}
	}
	g.nextID++
	post.ID = g.nextID
	post.CreatedAt = time.Now()
	clone := *post
	g.posts[post.ID] = &clone
	return nil
}

func (g *fakeGate) PruneToKeepSet(ctx context.Context, requestID int64, keepIDs []int64) ([]posts.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	keep := make(map[int64]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	var survivors []posts.Post
	for id, post := range g.posts {
		if post.RequestID != requestID {
			continue
		}
		if _, ok := keep[post.LotID]; !ok {
			delete(g.posts, id)
			continue
		}
		survivors = append(survivors, *post)
	}
	return survivors, nil
}

func (g *fakeGate) UpdatePost(ctx context.Context, id int64, fields posts.PostUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	post, ok := g.posts[id]
	if !ok {
		return posts.ErrNotFound
	}
	if fields.AverageSellPrice != nil {
		post.AverageSellPrice = fields.AverageSellPrice
	}
	if fields.ImageDescription != nil {
		post.ImageDescription = fields.ImageDescription
	}
	if fields.ImageScore != nil {
		post.ImageScore = fields.ImageScore
	}
	if fields.IsPosted != nil {
		post.IsPosted = *fields.IsPosted
	}
	return nil
}

func (g *fakeGate) GetPost(ctx context.Context, id int64) (*posts.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	post, ok := g.posts[id]
	if !ok {
		return nil, posts.ErrNotFound
	}
	clone := *post
	return &clone, nil
}

func (g *fakeGate) GetPostByLot(ctx context.Context, requestID, lotID int64) (*posts.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, post := range g.posts {
		if post.RequestID == requestID && post.LotID == lotID {
			clone := *post
			return &clone, nil
		}
	}
	return nil, posts.ErrNotFound
}

func (g *fakeGate) postsForRequest(requestID int64) []posts.Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []posts.Post
	for _, post := range g.posts {
		if post.RequestID == requestID {
			out = append(out, *post)
		}
	}
	return out
}

func makeLots(from, to int64) []catalog.Lot {
	var lots []catalog.Lot
	for id := from; id <= to; id++ {
		lots = append(lots, catalog.Lot{
			LotID:     id,
			BaseSite:  "copart",
			Title:     fmt.Sprintf("2019 HONDA ACCORD %d", id),
			Make:      "Honda",
			Model:     "Accord",
			Year:      2019,
			Odometer:  45000,
			VIN:       fmt.Sprintf("1HGCV1F3%07d", id),
			Status:    "Run and Drive",
			Location:  "NJ - Somerville",
			ImageURLs: []string{"https://img.example/1.jpg", "https://img.example/2.jpg"},
		})
	}
	return lots
}

func idRange(from, to int64) []int64 {
	var ids []int64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func testConfig() config.GeneratorConfig {
	return config.GeneratorConfig{
		MinUsefulLots:     14,
		ShortlistTimeout:  time.Second,
		ImageBatchTimeout: time.Second,
		FinalizeTimeout:   time.Second,
		LotLinkBase:       "https://bidauto.online/lot",
	}
}

func TestGenerateSuccess(t *testing.T) {
	avg := int64(14500)
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 20)}}, avgPrice: &avg}
	pricingClient := &fakePricing{failFor: map[int64]struct{}{16: {}, 17: {}, 18: {}, 19: {}, 20: {}}}
	assistantClient := &fakeAssistant{
		// 16 is kept by the AI but has no pricing, so it drops out.
		shortlistIDs: append(idRange(1, 10), 16),
		finalizeIDs:  idRange(1, 10),
	}
	gate := newFakeGate()
	events := &fakeEvents{}

	svc := NewService(catalogClient, pricingClient, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{Make: "Honda", Model: "Accord"})
	require.NoError(t, err)

	generated := events.byKey(constants.RoutingKeyPostsGenerated)
	require.Len(t, generated, 1)
	assert.Empty(t, events.byKey(constants.RoutingKeyPostsError))

	event, ok := generated[0].payload.(GeneratedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1), event.RequestID)
	assert.Equal(t, "user-1", event.UserUUID)
	assert.Len(t, event.Posts, 10)

	persisted := gate.postsForRequest(1)
	require.Len(t, persisted, 10)
	for _, post := range persisted {
		require.NotNil(t, post.AverageSellPrice, "lot %d", post.LotID)
		assert.Equal(t, avg, *post.AverageSellPrice)
		require.NotNil(t, post.ImageDescription, "lot %d", post.LotID)
		assert.Equal(t, int64(400), post.DeliveryPrice)
		assert.Equal(t, int64(1100), post.ShippingPrice)
	}
}

func TestGenerateNoLotsFound(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{}}}
	gate := newFakeGate()
	events := &fakeEvents{}
	pricingClient := &fakePricing{}

	svc := NewService(catalogClient, pricingClient, &fakeAssistant{}, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.Error(t, err)

	errorEvents := events.byKey(constants.RoutingKeyPostsError)
	require.Len(t, errorEvents, 1)
	event, ok := errorEvents[0].payload.(ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, event.ErrorMessage, "No lots found, change filters")
	assert.Contains(t, event.ErrorMessage, "request id: 1")

	// The pipeline halted before pricing.
	assert.Equal(t, 0, pricingClient.calls)
	assert.Empty(t, gate.postsForRequest(1))
}

func TestGenerateAllLotsAlreadySeen(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 5)}}}
	gate := newFakeGate()
	for _, id := range idRange(1, 5) {
		gate.seenLots[id] = struct{}{}
	}
	events := &fakeEvents{}

	svc := NewService(catalogClient, &fakePricing{}, &fakeAssistant{}, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.Error(t, err)

	errorEvents := events.byKey(constants.RoutingKeyPostsError)
	require.Len(t, errorEvents, 1)
	event := errorEvents[0].payload.(ErrorEvent)
	assert.Contains(t, event.ErrorMessage, "No unique lots remain")
}

func TestGeneratePaginatesUntilThreshold(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{
		{Lots: makeLots(1, 10)},
		{Lots: makeLots(11, 20)},
		{Lots: makeLots(21, 30)},
	}}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistIDs: idRange(1, 20), finalizeIDs: idRange(1, 20)}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.NoError(t, err)

	// 10 unique lots after page one is below the threshold of 14; 20 after
	// page two is enough, so page three is never fetched.
	assert.Equal(t, []int{1, 2}, catalogClient.pagesFetched)
}

func TestGeneratePageFetchErrorStopsPagination(t *testing.T) {
	catalogClient := &fakeCatalog{
		pages: []catalog.SearchPage{
			{Lots: makeLots(1, 10)},
			{Lots: makeLots(11, 20)},
		},
		errOnPage: 2,
	}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistIDs: idRange(1, 10), finalizeIDs: idRange(1, 10)}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	// Page two fails: the run continues with what page one yielded instead
	// of aborting.
	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, catalogClient.pagesFetched)
	generated := events.byKey(constants.RoutingKeyPostsGenerated)
	require.Len(t, generated, 1)
	assert.Len(t, generated[0].payload.(GeneratedEvent).Posts, 10)
}

func TestGenerateShortlistFailure(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 20)}}}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistErr: errors.New("rpc timeout")}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.Error(t, err)

	errorEvents := events.byKey(constants.RoutingKeyPostsError)
	require.Len(t, errorEvents, 1)
	event := errorEvents[0].payload.(ErrorEvent)
	assert.Contains(t, event.ErrorMessage, "Error processing lots with AI")
	assert.Empty(t, events.byKey(constants.RoutingKeyPostsGenerated))

	// There is no cross-stage transaction: posts persisted during the
	// pricing fan-out stay in place.
	assert.Len(t, gate.postsForRequest(1), 20)
}

func TestGenerateShortlistKeepsNothing(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 20)}}}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistIDs: nil}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.Error(t, err)

	errorEvents := events.byKey(constants.RoutingKeyPostsError)
	require.Len(t, errorEvents, 1)
	event := errorEvents[0].payload.(ErrorEvent)
	assert.Contains(t, event.ErrorMessage, "AI didn't find any suitable lots")

	// Prune with an empty keep set removed every stage-two post.
	assert.Empty(t, gate.postsForRequest(1))
}

func TestGenerateImageFailuresExcludeLots(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 16)}}}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{
		shortlistIDs: idRange(1, 16),
		finalizeIDs:  idRange(1, 16),
		imageFailFor: map[int64]struct{}{3: {}, 7: {}},
	}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.NoError(t, err)

	for _, post := range gate.postsForRequest(1) {
		if post.LotID == 3 || post.LotID == 7 {
			assert.Nil(t, post.ImageDescription, "lot %d", post.LotID)
		} else {
			assert.NotNil(t, post.ImageDescription, "lot %d", post.LotID)
		}
	}
}

func TestGenerateFinalizeEmpty(t *testing.T) {
	catalogClient := &fakeCatalog{pages: []catalog.SearchPage{{Lots: makeLots(1, 16)}}}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistIDs: idRange(1, 16), finalizeIDs: nil}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.Error(t, err)

	errorEvents := events.byKey(constants.RoutingKeyPostsError)
	require.Len(t, errorEvents, 1)
	event := errorEvents[0].payload.(ErrorEvent)
	assert.Contains(t, event.ErrorMessage, "No final lots after processing")
}

func TestGenerateAveragePriceFailureIsNotFatal(t *testing.T) {
	catalogClient := &fakeCatalog{
		pages:  []catalog.SearchPage{{Lots: makeLots(1, 16)}},
		avgErr: errors.New("stats service down"),
	}
	gate := newFakeGate()
	events := &fakeEvents{}
	assistantClient := &fakeAssistant{shortlistIDs: idRange(1, 16), finalizeIDs: idRange(1, 16)}

	svc := NewService(catalogClient, &fakePricing{}, assistantClient, gate, events, testConfig(), logger.NopLogger())

	err := svc.Generate(context.Background(), 1, "user-1", catalog.Filters{})
	require.NoError(t, err)

	require.Len(t, events.byKey(constants.RoutingKeyPostsGenerated), 1)
	for _, post := range gate.postsForRequest(1) {
		assert.Nil(t, post.AverageSellPrice)
	}
}

func TestPublishPost(t *testing.T) {
	gate := newFakeGate()
	reserve := int64(5200)
	post := &posts.Post{
		LotID:         77,
		Auction:       "copart",
		Title:         "2019 HONDA ACCORD",
		Odometer:      45000,
		Year:          2019,
		ReservePrice:  &reserve,
		VIN:           "1HGCV1F30KA000077",
		Status:        "Run and Drive",
		DeliveryPrice: 400,
		ShippingPrice: 1100,
		Images:        "https://img.example/1.jpg,https://img.example/2.jpg",
		RequestID:     1,
	}
	require.NoError(t, gate.UpsertPost(context.Background(), post))

	events := &fakeEvents{}
	svc := NewService(&fakeCatalog{}, &fakePricing{}, &fakeAssistant{}, gate, events, testConfig(), logger.NopLogger())

	err := svc.PublishPost(context.Background(), post.ID)
	require.NoError(t, err)

	published := events.byKey(constants.RoutingKeyPostsPublish)
	require.Len(t, published, 1)
	payload := published[0].payload.(PublishedPost)
	assert.Contains(t, payload.Text, "2019 HONDA ACCORD")
	assert.Contains(t, payload.Text, "$5,200")
	assert.Len(t, payload.Images, 2)

	stored, err := gate.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPosted)
}

func TestPublishPostNotFound(t *testing.T) {
	events := &fakeEvents{}
	svc := NewService(&fakeCatalog{}, &fakePricing{}, &fakeAssistant{}, newFakeGate(), events, testConfig(), logger.NopLogger())

	err := svc.PublishPost(context.Background(), 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, posts.ErrNotFound)
	assert.Empty(t, events.events)
}
