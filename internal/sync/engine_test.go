// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/geometry"
	"github.com/our-city-app/plugin-gipod/internal/gipod"
	"github.com/our-city-app/plugin-gipod/internal/index"
	"github.com/our-city-app/plugin-gipod/internal/models"
	"github.com/our-city-app/plugin-gipod/internal/projection"
	"github.com/our-city-app/plugin-gipod/internal/store"
)

// fakeClient serves canned pages and details.
type fakeClient struct {
	pages       map[models.Kind]map[int][]models.ListItem
	details     map[string]*models.ItemData
	detailCalls []string
	probeStatus map[string]int
}

func (f *fakeClient) List(_ context.Context, kind models.Kind, _ time.Time, _, offset int) ([]models.ListItem, error) {
	return f.pages[kind][offset], nil
}

func (f *fakeClient) Detail(_ context.Context, kind models.Kind, gipodID int64) (*models.ItemData, error) {
	uid := models.MakeUID(kind, gipodID)
	f.detailCalls = append(f.detailCalls, uid)
	data, ok := f.details[uid]
	if !ok {
		return nil, gipod.ErrNotFound
	}
	return data, nil
}

func (f *fakeClient) Probe(_ context.Context, kind models.Kind, gipodID int64) (int, error) {
	return f.probeStatus[models.MakeUID(kind, gipodID)], nil
}

// fakeIndex records applied documents.
type fakeIndex struct {
	docs map[string]index.Document
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]index.Document)}
}

func (f *fakeIndex) Replace(_ context.Context, uid string, docs []index.Document) error {
	for id, doc := range f.docs {
		if doc.UID == uid {
			delete(f.docs, id)
		}
	}
	for _, doc := range docs {
		f.docs[doc.DocID] = doc
	}
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, uid string) error {
	return f.Replace(ctx, uid, nil)
}

func (f *fakeIndex) Search(context.Context, index.Query) ([]index.Hit, *string, error) {
	return nil, nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{PageSize: 1000, LookaheadMonths: 12},
		Sync: config.SyncConfig{
			QueueBuffer:          64,
			RetryMaxRetries:      1,
			RetryInitialInterval: time.Millisecond,
			RetryMaxInterval:     time.Millisecond,
		},
	}
}

type testEngine struct {
	engine *Engine
	client *fakeClient
	store  *store.Store
	index  *fakeIndex
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	st, err := store.Open(&config.StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := &fakeClient{
		pages:       map[models.Kind]map[int][]models.ListItem{},
		details:     map[string]*models.ItemData{},
		probeStatus: map[string]int{},
	}
	idx := newFakeIndex()

	engine, err := NewEngine(testConfig(), client, st, projection.NewReindexer(st, idx))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &testEngine{engine: engine, client: client, store: st, index: idx}
}

func taskMessage(t *testing.T, task any) *message.Message {
	t.Helper()
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload)
}

// drain reads published messages from a topic until it goes quiet.
func drain[T any](t *testing.T, ch <-chan *message.Message) []T {
	t.Helper()
	var tasks []T
	for {
		select {
		case msg := <-ch:
			var task T
			require.NoError(t, json.Unmarshal(msg.Payload, &task))
			msg.Ack()
			tasks = append(tasks, task)
		case <-time.After(100 * time.Millisecond):
			return tasks
		}
	}
}

func TestHandlePageSchedulesUpdatesAndNextPage(t *testing.T) {
	te := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := te.engine.Subscriber().Subscribe(ctx, TopicSyncUpdate)
	require.NoError(t, err)
	pages, err := te.engine.Subscriber().Subscribe(ctx, TopicSyncPage)
	require.NoError(t, err)

	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	te.client.pages[models.KindWorkAssignment] = map[int][]models.ListItem{
		0: {
			{GipodID: 1, LatestUpdate: models.GipodTime{Time: watermark.Add(time.Hour)}},
			{GipodID: 2, LatestUpdate: models.GipodTime{Time: watermark.Add(-time.Hour)}},
			{GipodID: 3, LatestUpdate: models.GipodTime{Time: watermark}},
		},
	}

	task := PageTask{Kind: models.KindWorkAssignment, Offset: 0, EndDate: watermark.AddDate(1, 0, 0), Watermark: &watermark}
	require.NoError(t, te.engine.handlePage(taskMessage(t, task)))

	updateTasks := drain[UpdateTask](t, updates)
	require.Len(t, updateTasks, 3)
	assert.Equal(t, int64(1), updateTasks[0].GipodID)
	assert.False(t, updateTasks[0].SkipIfExists, "updated since watermark: unconditional refresh")
	assert.True(t, updateTasks[1].SkipIfExists, "strictly older than watermark: fetch only when missing")
	assert.False(t, updateTasks[2].SkipIfExists, "updated exactly at the watermark: unconditional refresh")

	pageTasks := drain[PageTask](t, pages)
	require.Len(t, pageTasks, 1)
	assert.Equal(t, 3, pageTasks[0].Offset)

	// The next page is empty: the walk ends without re-enqueueing.
	require.NoError(t, te.engine.handlePage(taskMessage(t, pageTasks[0])))
	assert.Empty(t, drain[PageTask](t, pages))
}

func TestHandlePageNilWatermarkRefreshesEverything(t *testing.T) {
	te := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := te.engine.Subscriber().Subscribe(ctx, TopicSyncUpdate)
	require.NoError(t, err)

	te.client.pages[models.KindManifestation] = map[int][]models.ListItem{
		0: {{GipodID: 7, LatestUpdate: models.GipodTime{Time: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)}}},
	}

	task := PageTask{Kind: models.KindManifestation, Offset: 0, EndDate: time.Now().AddDate(1, 0, 0)}
	require.NoError(t, te.engine.handlePage(taskMessage(t, task)))

	updateTasks := drain[UpdateTask](t, updates)
	require.Len(t, updateTasks, 1)
	assert.False(t, updateTasks[0].SkipIfExists)
}

func TestHandleUpdateStoresAndIndexes(t *testing.T) {
	te := newTestEngine(t)

	start := models.GipodTime{Time: time.Now().UTC().Add(24 * time.Hour)}
	end := models.GipodTime{Time: time.Now().UTC().Add(48 * time.Hour)}
	te.client.details["w-1"] = &models.ItemData{
		GipodID:     1,
		Description: "Wegenwerken",
		Location: models.Location{Coordinate: &geometry.Geometry{
			Type:        geometry.TypePoint,
			Coordinates: json.RawMessage(`[4.351234567890123, 50.851234567890123]`),
		}},
		StartDateTime: &start,
		EndDateTime:   &end,
	}

	task := UpdateTask{Kind: models.KindWorkAssignment, GipodID: 1}
	require.NoError(t, te.engine.handleUpdate(taskMessage(t, task)))

	record, err := te.store.Get("w-1")
	require.NoError(t, err)
	assert.True(t, record.Visible)
	assert.Equal(t, []string{"w-1"}, record.SearchKeys)

	// Geometry was rounded before storing.
	lat, lon, ok := record.Data.Location.LatLon()
	require.True(t, ok)
	assert.Equal(t, 50.851235, lat)
	assert.Equal(t, 4.351235, lon)

	require.Contains(t, te.index.docs, "w-1")
	assert.Equal(t, 50.851235, te.index.docs["w-1"].Lat)
}

func TestHandleUpdateSkipIfExists(t *testing.T) {
	te := newTestEngine(t)

	require.NoError(t, te.store.Put(&models.Record{UID: "w-1", Kind: models.KindWorkAssignment}))

	task := UpdateTask{Kind: models.KindWorkAssignment, GipodID: 1, SkipIfExists: true}
	require.NoError(t, te.engine.handleUpdate(taskMessage(t, task)))
	assert.Empty(t, te.client.detailCalls, "existing record must not be re-fetched")

	// The same flag on a missing record does fetch.
	te.client.details["w-2"] = &models.ItemData{GipodID: 2}
	task = UpdateTask{Kind: models.KindWorkAssignment, GipodID: 2, SkipIfExists: true}
	require.NoError(t, te.engine.handleUpdate(taskMessage(t, task)))
	assert.Equal(t, []string{"w-2"}, te.client.detailCalls)
}

func TestHandleUpdateUpstreamGone(t *testing.T) {
	te := newTestEngine(t)

	task := UpdateTask{Kind: models.KindWorkAssignment, GipodID: 404}
	require.NoError(t, te.engine.handleUpdate(taskMessage(t, task)))

	_, err := te.store.Get("w-404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTriggerSyncAdvancesWatermark(t *testing.T) {
	te := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pages, err := te.engine.Subscriber().Subscribe(ctx, TopicSyncPage)
	require.NoError(t, err)

	require.NoError(t, te.engine.TriggerSync(ctx))

	pageTasks := drain[PageTask](t, pages)
	require.Len(t, pageTasks, 2, "one page-0 task per kind")
	for _, task := range pageTasks {
		assert.Zero(t, task.Offset)
		assert.Nil(t, task.Watermark, "first run carries no watermark")
	}

	wm, err := te.store.Watermark()
	require.NoError(t, err)
	require.NotNil(t, wm)

	// The second trigger carries the first run's watermark.
	require.NoError(t, te.engine.TriggerSync(ctx))
	pageTasks = drain[PageTask](t, pages)
	require.Len(t, pageTasks, 2)
	for _, task := range pageTasks {
		require.NotNil(t, task.Watermark)
		assert.True(t, task.Watermark.Equal(*wm))
	}
}
