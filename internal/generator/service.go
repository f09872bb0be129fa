package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bidautoweb/post-generator-service/internal/assistant"
	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/posts"
	"github.com/bidautoweb/post-generator-service/internal/pricing"
	"github.com/bidautoweb/post-generator-service/pkg/logging"
	"github.com/bidautoweb/post-generator-service/pkg/metrics"
)

type CatalogClient interface {
	SearchLots(ctx context.Context, filters catalog.Filters, page int) (*catalog.SearchPage, error)
	AveragePrice(ctx context.Context, make, model string, yearFrom, yearTo int) (*int64, error)
}

type PricingClient interface {
	QuoteForLot(ctx context.Context, lot catalog.Lot) (*pricing.Quote, error)
}

type AssistantClient interface {
	Shortlist(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error)
	Finalize(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error)
	DescribeImages(ctx context.Context, reqs []assistant.ImageRequest, timeout time.Duration) []assistant.ImageResult
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, payload interface{}) error
}

// GeneratedEvent is the posts.generated payload.
type GeneratedEvent struct {
	Posts     []SerializedPost `json:"posts"`
	RequestID int64            `json:"request_id"`
	UserUUID  string           `json:"user_uuid"`
}

// ErrorEvent is the posts.error payload.
type ErrorEvent struct {
	ErrorMessage string `json:"error_message"`
	RequestID    int64  `json:"request_id"`
	UserUUID     string `json:"user_uuid"`
}

// PublishedPost is the posts.publish payload.
type PublishedPost struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

// runError carries the user-facing message for the posts.error event along
// with the underlying cause. Exactly one error event is published per
// failed run, by Generate.
type runError struct {
	userMessage string
	cause       error
}

func (e *runError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.userMessage, e.cause)
	}
	return e.userMessage
}

func (e *runError) Unwrap() error { return e.cause }

var (
	errNoLots         = errors.New("generator: no lots found")
	errNoUniqueLots   = errors.New("generator: no unique lots remain")
	errNoShortlist    = errors.New("generator: shortlist kept no priced lots")
	errNoDescriptions = errors.New("generator: no lots with image descriptions")
	errNoFinalLots    = errors.New("generator: no final lots after processing")
)

// Service drives the post-generation pipeline: fetch → dedupe → price →
// shortlist → image description → finalize → enrich → persist → notify.
// Stages run strictly in order, except pricing and shortlist which overlap.
// Every failed run ends in one posts.error event.
type Service struct {
	catalog   CatalogClient
	pricing   PricingClient
	assistant AssistantClient
	store     posts.Gate
	events    EventPublisher
	cfg       config.GeneratorConfig
	logger    logger.Logger
}

func NewService(
	catalogClient CatalogClient,
	pricingClient PricingClient,
	assistantClient AssistantClient,
	store posts.Gate,
	events EventPublisher,
	cfg config.GeneratorConfig,
	log logger.Logger,
) *Service {
	if cfg.MinUsefulLots <= 0 {
		cfg.MinUsefulLots = constants.MinUsefulLots
	}
	if cfg.ShortlistTimeout <= 0 {
		cfg.ShortlistTimeout = constants.ShortlistTimeout
	}
	if cfg.ImageBatchTimeout <= 0 {
		cfg.ImageBatchTimeout = constants.ImageBatchTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = constants.FinalizeTimeout
	}

	return &Service{
		catalog:   catalogClient,
		pricing:   pricingClient,
		assistant: assistantClient,
		store:     store,
		events:    events,
		cfg:       cfg,
		logger:    log,
	}
}

// Generate runs one pipeline for the already-persisted request. Posts
// written before a failed stage stay persisted: there is no cross-stage
// transaction, a retry is a fresh run.
func (s *Service) Generate(ctx context.Context, requestID int64, userUUID string, filters catalog.Filters) error {
	ctx = logging.WithRequestID(ctx, requestID)
	ctx = logging.WithUserUUID(ctx, userUUID)

	start := time.Now()
	s.logger.InfowCtx(ctx, "Starting post generation",
		"make", filters.Make,
		"model", filters.Model,
		"site", filters.Site,
	)

	if err := s.generate(ctx, requestID, userUUID, filters); err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		s.logger.ErrorwCtx(ctx, "Post generation failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		s.sendError(ctx, requestID, userUUID, userMessage(err, requestID))
		return err
	}

	metrics.PipelineRunsTotal.WithLabelValues("success").Inc()
	s.logger.InfowCtx(ctx, "Post generation finished",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *Service) generate(ctx context.Context, requestID int64, userUUID string, filters catalog.Filters) error {
	uniqueLots, err := s.fetchUniqueLots(ctx, filters)
	if err != nil {
		return err
	}

	workingLots, err := s.shortlistWithPricing(ctx, requestID, uniqueLots)
	if err != nil {
		return err
	}

	describedLots, err := s.describeImages(ctx, requestID, workingLots)
	if err != nil {
		return err
	}

	finalIDs, err := s.finalizeSelection(ctx, describedLots)
	if err != nil {
		return err
	}

	s.updateAveragePrices(ctx, requestID, finalIDs, lotIndex(workingLots))

	return s.notifySuccess(ctx, requestID, userUUID, finalIDs)
}

// fetchUniqueLots pages through the catalog until the useful-count
// threshold is met or pages run out. Repeat suppression is global: a lot id
// persisted for any prior request never enters the working set again.
func (s *Service) fetchUniqueLots(ctx context.Context, filters catalog.Filters) ([]catalog.Lot, error) {
	defer observeStage("fetch")()

	page, err := s.catalog.SearchLots(ctx, filters, 1)
	if err != nil {
		return nil, &runError{userMessage: "Error fetching lots", cause: err}
	}
	if len(page.Lots) == 0 {
		return nil, &runError{userMessage: "No lots found, change filters", cause: errNoLots}
	}

	seenInRun := make(map[int64]struct{})
	uniqueLots, err := s.suppressRepeats(ctx, page.Lots, seenInRun)
	if err != nil {
		return nil, &runError{userMessage: "Error fetching lots", cause: err}
	}

	currentPage := page.Pagination.Page
	if currentPage <= 0 {
		currentPage = 1
	}
	totalPages := page.Pagination.Pages

	for len(uniqueLots) < s.cfg.MinUsefulLots && currentPage < totalPages {
		currentPage++

		nextPage, err := s.catalog.SearchLots(ctx, filters, currentPage)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to fetch catalog page, stopping pagination",
				"page", currentPage,
				"error", err,
			)
			break
		}

		moreLots, err := s.suppressRepeats(ctx, nextPage.Lots, seenInRun)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to filter catalog page, stopping pagination",
				"page", currentPage,
				"error", err,
			)
			break
		}
		uniqueLots = append(uniqueLots, moreLots...)
	}

	if len(uniqueLots) == 0 {
		return nil, &runError{userMessage: "No unique lots remain, change filters to get new lots", cause: errNoUniqueLots}
	}

	s.logger.DebugwCtx(ctx, "Collected unique lots", "count", len(uniqueLots))
	return uniqueLots, nil
}

// suppressRepeats drops lots already seen in this run (a lot can appear on
// several pages) and lots any prior request already produced a Post for.
func (s *Service) suppressRepeats(ctx context.Context, lots []catalog.Lot, seenInRun map[int64]struct{}) ([]catalog.Lot, error) {
	candidates := make([]catalog.Lot, 0, len(lots))
	candidateIDs := make([]int64, 0, len(lots))
	for _, lot := range lots {
		if _, ok := seenInRun[lot.LotID]; ok {
			continue
		}
		seenInRun[lot.LotID] = struct{}{}
		candidates = append(candidates, lot)
		candidateIDs = append(candidateIDs, lot.LotID)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	seen, err := s.store.ListingsAlreadySeen(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check seen listings: %w", err)
	}

	unique := candidates[:0]
	for _, lot := range candidates {
		if _, ok := seen[lot.LotID]; ok {
			continue
		}
		unique = append(unique, lot)
	}
	return unique, nil
}

// shortlistWithPricing overlaps the pricing fan-out with the shortlist RPC:
// neither depends on the other's result. It then prunes persisted Posts to
// the shortlist and narrows the working set to priced ∩ kept.
func (s *Service) shortlistWithPricing(ctx context.Context, requestID int64, lots []catalog.Lot) ([]catalog.Lot, error) {
	defer observeStage("shortlist")()

	prompt := lotsPrompt(lots)

	var pricedIDs []int64
	var keepIDs []int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pricedIDs = s.priceAndPersist(gctx, requestID, lots)
		return nil
	})
	g.Go(func() error {
		ids, err := s.assistant.Shortlist(gctx, prompt, s.cfg.ShortlistTimeout)
		if err != nil {
			return fmt.Errorf("shortlist call failed: %w", err)
		}
		keepIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, &runError{userMessage: "Error processing lots with AI", cause: err}
	}

	if _, err := s.store.PruneToKeepSet(ctx, requestID, keepIDs); err != nil {
		return nil, &runError{userMessage: "Error processing lots with AI", cause: err}
	}

	keep := toSet(keepIDs)
	priced := toSet(pricedIDs)

	working := make([]catalog.Lot, 0, len(lots))
	for _, lot := range lots {
		if _, ok := priced[lot.LotID]; !ok {
			continue
		}
		if _, ok := keep[lot.LotID]; !ok {
			continue
		}
		working = append(working, lot)
	}

	if len(working) == 0 {
		return nil, &runError{
			userMessage: "AI didn't find any suitable lots, try changing your search parameters",
			cause:       errNoShortlist,
		}
	}

	s.logger.DebugwCtx(ctx, "Shortlist kept lots",
		"priced", len(pricedIDs),
		"kept", len(keepIDs),
		"working", len(working),
	)
	return working, nil
}

// priceAndPersist fans the pricing calls out, one per lot; a lot whose call
// fails is dropped with a warning, not retried. Each priced lot is
// immediately persisted as a Post row (idempotent on request/lot).
func (s *Service) priceAndPersist(ctx context.Context, requestID int64, lots []catalog.Lot) []int64 {
	quotes := make(map[int64]pricing.Quote, len(lots))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lot := range lots {
		wg.Add(1)
		go func(lot catalog.Lot) {
			defer wg.Done()

			quote, err := s.pricing.QuoteForLot(ctx, lot)
			if err != nil {
				s.logger.WarnwCtx(ctx, "No pricing data for lot, dropping it",
					"lot_id", lot.LotID,
					"error", err,
				)
				return
			}

			mu.Lock()
			quotes[lot.LotID] = *quote
			mu.Unlock()
		}(lot)
	}
	wg.Wait()

	pricedIDs := make([]int64, 0, len(quotes))
	for _, lot := range lots {
		quote, ok := quotes[lot.LotID]
		if !ok {
			continue
		}

		post := buildPost(requestID, lot, quote)
		if err := s.store.UpsertPost(ctx, post); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to persist post, dropping lot",
				"lot_id", lot.LotID,
				"error", err,
			)
			continue
		}
		pricedIDs = append(pricedIDs, lot.LotID)
	}
	return pricedIDs
}

// describeImages issues one bounded-batch RPC per surviving lot; a lot
// whose call fails or times out is excluded from the next stage.
func (s *Service) describeImages(ctx context.Context, requestID int64, lots []catalog.Lot) ([]DescribedLot, error) {
	defer observeStage("describe_images")()

	reqs := make([]assistant.ImageRequest, 0, len(lots))
	for _, lot := range lots {
		reqs = append(reqs, assistant.ImageRequest{LotID: lot.LotID, ImageURLs: lot.ImageURLs})
	}

	results := s.assistant.DescribeImages(ctx, reqs, s.cfg.ImageBatchTimeout)

	index := lotIndex(lots)
	described := make([]DescribedLot, 0, len(results))
	for _, result := range results {
		if result.Err != nil {
			s.logger.WarnwCtx(ctx, "Image description failed for lot, excluding it",
				"lot_id", result.LotID,
				"error", result.Err,
			)
			continue
		}

		lot, ok := index[result.LotID]
		if !ok {
			continue
		}

		described = append(described, DescribedLot{
			Lot:            lot,
			Description:    result.Description,
			ConditionScore: result.ConditionScore,
		})
		s.persistImageInfo(ctx, requestID, result)
	}

	if len(described) == 0 {
		return nil, &runError{userMessage: "No lots with descriptions found", cause: errNoDescriptions}
	}
	return described, nil
}

func (s *Service) persistImageInfo(ctx context.Context, requestID int64, result assistant.ImageResult) {
	post, err := s.store.GetPostByLot(ctx, requestID, result.LotID)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to load post for image info",
			"lot_id", result.LotID,
			"error", err,
		)
		return
	}

	description := result.Description
	score := result.ConditionScore
	err = s.store.UpdatePost(ctx, post.ID, posts.PostUpdate{
		ImageDescription: &description,
		ImageScore:       &score,
	})
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to store image info",
			"lot_id", result.LotID,
			"error", err,
		)
	}
}

func (s *Service) finalizeSelection(ctx context.Context, described []DescribedLot) ([]int64, error) {
	defer observeStage("finalize")()

	keepIDs, err := s.assistant.Finalize(ctx, describedLotsPrompt(described), s.cfg.FinalizeTimeout)
	if err != nil {
		return nil, &runError{userMessage: "Error getting final processed lots", cause: err}
	}
	if len(keepIDs) == 0 {
		return nil, &runError{userMessage: "No final lots after processing", cause: errNoFinalLots}
	}
	return keepIDs, nil
}

// updateAveragePrices enriches the final keep set sequentially; a per-lot
// failure is logged and skipped, never aborting the remaining lots.
func (s *Service) updateAveragePrices(ctx context.Context, requestID int64, finalIDs []int64, index map[int64]catalog.Lot) {
	defer observeStage("average_price")()

	for _, lotID := range finalIDs {
		lot, ok := index[lotID]
		if !ok {
			continue
		}

		yearFrom, yearTo := 0, 0
		if lot.Year > 0 {
			yearFrom, yearTo = lot.Year-1, lot.Year+1
		}

		avg, err := s.catalog.AveragePrice(ctx, lot.Make, lot.Model, yearFrom, yearTo)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Average price lookup failed, skipping lot",
				"lot_id", lotID,
				"error", err,
			)
			continue
		}
		if avg == nil {
			continue
		}

		post, err := s.store.GetPostByLot(ctx, requestID, lotID)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Failed to load post for average price",
				"lot_id", lotID,
				"error", err,
			)
			continue
		}

		if err := s.store.UpdatePost(ctx, post.ID, posts.PostUpdate{AverageSellPrice: avg}); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to store average price",
				"lot_id", lotID,
				"error", err,
			)
		}
	}
}

func (s *Service) notifySuccess(ctx context.Context, requestID int64, userUUID string, finalIDs []int64) error {
	defer observeStage("notify")()

	survivors, err := s.store.PruneToKeepSet(ctx, requestID, finalIDs)
	if err != nil {
		return &runError{userMessage: "Error generating post", cause: err}
	}
	if len(survivors) == 0 {
		return &runError{userMessage: "No final lots after processing", cause: errNoFinalLots}
	}

	event := GeneratedEvent{
		Posts:     serializePosts(survivors, s.cfg.LotLinkBase),
		RequestID: requestID,
		UserUUID:  userUUID,
	}
	if err := s.events.PublishEvent(ctx, constants.RoutingKeyPostsGenerated, event); err != nil {
		return fmt.Errorf("failed to publish generated posts: %w", err)
	}

	metrics.PostsGeneratedTotal.Add(float64(len(event.Posts)))
	return nil
}

// PublishPost marks a previously generated Post as posted and emits the
// serialized message for downstream publishing.
func (s *Service) PublishPost(ctx context.Context, postID int64) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to load post %d: %w", postID, err)
	}

	posted := true
	if err := s.store.UpdatePost(ctx, postID, posts.PostUpdate{IsPosted: &posted}); err != nil {
		return fmt.Errorf("failed to mark post %d as posted: %w", postID, err)
	}
	post.IsPosted = true

	serializer := NewPostSerializer(*post, s.cfg.LotLinkBase)
	payload := PublishedPost{
		Text:   serializer.Text(),
		Images: serializer.Images(constants.MaxImagesPerMessage),
	}
	return s.events.PublishEvent(ctx, constants.RoutingKeyPostsPublish, payload)
}

func (s *Service) sendError(ctx context.Context, requestID int64, userUUID, message string) {
	event := ErrorEvent{
		ErrorMessage: message,
		RequestID:    requestID,
		UserUUID:     userUUID,
	}
	if err := s.events.PublishEvent(ctx, constants.RoutingKeyPostsError, event); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish error event",
			"error", err,
		)
	}
}

func userMessage(err error, requestID int64) string {
	var re *runError
	if errors.As(err, &re) {
		return fmt.Sprintf("%s\nrequest id: %d", re.userMessage, requestID)
	}
	return fmt.Sprintf("Error generating post: %v\nrequest id: %d", err, requestID)
}

func buildPost(requestID int64, lot catalog.Lot, quote pricing.Quote) *posts.Post {
	post := &posts.Post{
		LotID:         lot.LotID,
		Auction:       strings.ToLower(lot.BaseSite),
		Title:         lot.Title,
		Odometer:      lot.Odometer,
		Year:          lot.Year,
		VIN:           lot.VIN,
		Status:        lot.Status,
		DeliveryPrice: quote.DeliveryPrice,
		ShippingPrice: quote.ShippingPrice,
		RequestID:     requestID,
	}

	if lot.PriceReserve > 0 {
		reserve := lot.PriceReserve
		post.ReservePrice = &reserve
	}
	if lot.AuctionDate != "" {
		if parsed, err := time.Parse(time.RFC3339, lot.AuctionDate); err == nil {
			post.AuctionDate = &parsed
		}
	}

	images := lot.ImageURLs
	if len(images) > constants.MaxImagesPerPost {
		images = images[:constants.MaxImagesPerPost]
	}
	post.Images = strings.Join(images, ",")

	return post
}

func lotIndex(lots []catalog.Lot) map[int64]catalog.Lot {
	index := make(map[int64]catalog.Lot, len(lots))
	for _, lot := range lots {
		index[lot.LotID] = lot
	}
	return index
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func observeStage(stage string) func() {
	start := time.Now()
	return func() {
		metrics.ObserveStageDuration(stage, time.Since(start))
	}
}
