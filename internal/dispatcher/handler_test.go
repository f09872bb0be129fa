package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidautoweb/post-generator-service/internal/broker"
	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/posts"
)

type generateCall struct {
	requestID int64
	userUUID  string
	filters   catalog.Filters
}

type fakeGenerator struct {
	generateCalls []generateCall
	generateErr   error
	publishCalls  []int64
	publishErr    error
}

func (g *fakeGenerator) Generate(ctx context.Context, requestID int64, userUUID string, filters catalog.Filters) error {
	g.generateCalls = append(g.generateCalls, generateCall{requestID: requestID, userUUID: userUUID, filters: filters})
	return g.generateErr
}

func (g *fakeGenerator) PublishPost(ctx context.Context, postID int64) error {
	g.publishCalls = append(g.publishCalls, postID)
	return g.publishErr
}

type fakeStore struct {
	posts.Gate
	created   []*posts.RequestFilters
	createErr error
}

func (s *fakeStore) CreateRequest(ctx context.Context, req *posts.RequestFilters) error {
	if s.createErr != nil {
		return s.createErr
	}
	req.ID = int64(len(s.created) + 1)
	req.CreatedAt = time.Now()
	s.created = append(s.created, req)
	return nil
}

func envelope(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(broker.EventEnvelope{
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func TestHandleGenerateCommand(t *testing.T) {
	service := &fakeGenerator{}
	store := &fakeStore{}
	d := New(nil, service, store, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyGenerateWithFilters, map[string]interface{}{
		"user_uuid": "user-1",
		"filters":   map[string]interface{}{"make": "Honda", "model": "Accord", "year_from": 2018},
	})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyGenerateWithFilters,
		Body:       body,
	})
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	assert.Equal(t, "user-1", store.created[0].UserUUID)
	assert.Equal(t, "Honda", store.created[0].Make)

	require.Len(t, service.generateCalls, 1)
	call := service.generateCalls[0]
	assert.Equal(t, store.created[0].ID, call.requestID)
	assert.Equal(t, "user-1", call.userUUID)
	assert.Equal(t, 2018, call.filters.YearFrom)
}

func TestHandleGenerateMissingUserUUID(t *testing.T) {
	service := &fakeGenerator{}
	store := &fakeStore{}
	d := New(nil, service, store, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyGenerateWithFilters, map[string]interface{}{
		"filters": map[string]interface{}{"make": "Honda"},
	})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyGenerateWithFilters,
		Body:       body,
	})
	require.NoError(t, err)
	assert.Empty(t, store.created)
	assert.Empty(t, service.generateCalls)
}

func TestHandleGenerateMalformedBody(t *testing.T) {
	service := &fakeGenerator{}
	store := &fakeStore{}
	d := New(nil, service, store, "", logger.NopLogger())

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyGenerateWithFilters,
		Body:       []byte("not json"),
	})
	require.NoError(t, err)
	assert.Empty(t, service.generateCalls)
}

func TestHandleGenerateCreateRequestError(t *testing.T) {
	service := &fakeGenerator{}
	store := &fakeStore{createErr: errors.New("db down")}
	d := New(nil, service, store, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyGenerateWithFilters, map[string]interface{}{
		"user_uuid": "user-1",
	})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyGenerateWithFilters,
		Body:       body,
	})
	require.Error(t, err)
	assert.Empty(t, service.generateCalls)
}

func TestHandleGenerateServiceErrorIsSwallowed(t *testing.T) {
	// The pipeline publishes its own posts.error; the delivery must still
	// be acknowledged.
	service := &fakeGenerator{generateErr: errors.New("no lots")}
	store := &fakeStore{}
	d := New(nil, service, store, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyGenerateWithFilters, map[string]interface{}{
		"user_uuid": "user-1",
	})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyGenerateWithFilters,
		Body:       body,
	})
	assert.NoError(t, err)
	assert.Len(t, service.generateCalls, 1)
}

func TestHandlePublishCommand(t *testing.T) {
	service := &fakeGenerator{}
	d := New(nil, service, &fakeStore{}, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyPublishPost, map[string]interface{}{"post_id": 42})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyPublishPost,
		Body:       body,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, service.publishCalls)
}

func TestHandlePublishMissingPostID(t *testing.T) {
	service := &fakeGenerator{}
	d := New(nil, service, &fakeStore{}, "", logger.NopLogger())

	body := envelope(t, constants.RoutingKeyPublishPost, map[string]interface{}{})

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: constants.RoutingKeyPublishPost,
		Body:       body,
	})
	require.NoError(t, err)
	assert.Empty(t, service.publishCalls)
}

func TestHandleUnknownRoutingKey(t *testing.T) {
	service := &fakeGenerator{}
	d := New(nil, service, &fakeStore{}, "", logger.NopLogger())

	err := d.handle(context.Background(), broker.Delivery{
		RoutingKey: "some.other.event",
		Body:       []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Empty(t, service.generateCalls)
	assert.Empty(t, service.publishCalls)
}
