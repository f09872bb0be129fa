package constants

import "time"

const (
	DefaultExchangeName = "events"
	DefaultCommandQueue = "post_generator_service"
	AssistantQueue      = "assistant-service"
)

const (
	RoutingKeyGenerateWithFilters = "generate.with_filters"
	RoutingKeyPublishPost         = "publish.post"

	RoutingKeyPostsGenerated = "posts.generated"
	RoutingKeyPostsError     = "posts.error"
	RoutingKeyPostsPublish   = "posts.publish"
)

const (
	ActionAssistantText  = "assistant.generate.text"
	ActionAssistantImage = "assistant.generate.image"

	AssistantLotChooser       = "lot_chooser"
	AssistantImagesProcessor  = "lot_images_processor"
	AssistantFullLotProcessor = "full_lot_processor"
)

const (
	DefaultRPCTimeout      = 30 * time.Second
	ShortlistTimeout       = 120 * time.Second
	ImageBatchTimeout      = 240 * time.Second
	FinalizeTimeout        = 90 * time.Second
	AveragePriceTimeout    = 30 * time.Second
	DefaultCatalogTimeout  = 15 * time.Second
	DefaultPricingTimeout  = 10 * time.Second
	DefaultConnectAttempts = 5
)

const (
	MinUsefulLots        = 14
	ImageCallConcurrency = 5
	MaxImagesPerPost     = 10
	MaxImagesPerAICall   = 7
	MaxImagesPerMessage  = 5
	CatalogPageSize      = 20
)

const (
	ShutdownTimeout = 5 * time.Second
)
