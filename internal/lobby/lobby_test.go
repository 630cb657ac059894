package lobby

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlockJack/internal/bridge"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/game/manager"
	"BlockJack/internal/storage"
)

type fixture struct {
	store *storage.MemoryStore
	gate  *bridge.Gate
	queue bridge.Queue
	svc   *Service
}

func newFixture(t *testing.T, cache Cache) *fixture {
	store := storage.NewMemoryStore()
	gate := bridge.NewGate(store, time.Second, 2, nil)
	queue := bridge.NewMemoryQueue()
	writer := bridge.NewWriter(gate, queue, bridge.NewStoreApplier(store), bridge.NewMemoryDedup(time.Hour), nil, nil)
	return &fixture{
		store: store,
		gate:  gate,
		queue: queue,
		svc:   NewService(cache, store, writer, time.Hour, nil),
	}
}

type fakeSessions []manager.SessionInfo

func (f fakeSessions) Active() []manager.SessionInfo { return f }

func publicRoom(name string) RegisterRequest {
	return RegisterRequest{Name: name, MaxPlayers: 5, MinBet: 10, MaxBet: 500, Visibility: VisibilityPublic, CreatedBy: "admin"}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	ctx := context.Background()

	cases := map[string]func(r *RegisterRequest){
		"empty name":       func(r *RegisterRequest) { r.Name = "" },
		"long name":        func(r *RegisterRequest) { r.Name = string(bytes.Repeat([]byte("x"), 65)) },
		"too few players":  func(r *RegisterRequest) { r.MaxPlayers = 1 },
		"too many players": func(r *RegisterRequest) { r.MaxPlayers = 8 },
		"zero min bet":     func(r *RegisterRequest) { r.MinBet = 0 },
		"min above max":    func(r *RegisterRequest) { r.MinBet = 600 },
		"bad visibility":   func(r *RegisterRequest) { r.Visibility = "friends" },
		"private no pass":  func(r *RegisterRequest) { r.Visibility = VisibilityPrivate },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := publicRoom("table")
			mutate(&req)
			_, err := f.svc.Register(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRoom)
		})
	}
	assert.Equal(t, 0, f.store.Rooms())
}

func TestRegisterDirect(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, publicRoom("table"))
	require.NoError(t, err)
	assert.False(t, resp.Queued)
	assert.Equal(t, "direct", resp.Mode)
	assert.NotEmpty(t, resp.ID)

	stored, err := f.store.GetRoom(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "table", stored.Name)
	assert.Empty(t, stored.PasswordHash)
}

func TestRegisterDegradedVisibleFromCache(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	ctx := context.Background()

	f.store.SetDown(true)
	f.gate.Check(ctx)
	f.gate.Check(ctx)
	require.False(t, f.gate.Healthy())

	req := publicRoom("vip")
	req.Visibility = VisibilityPrivate
	req.Password = "hunter2"
	resp, err := f.svc.Register(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, "degraded", resp.Mode)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 未落库也能加入
	room, err := f.svc.Authorize(ctx, resp.ID, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "vip", room.Name)
	assert.NotEqual(t, "hunter2", room.PasswordHash)

	_, err = f.svc.Authorize(ctx, resp.ID, "wrong")
	assert.ErrorIs(t, err, manager.ErrWrongPassword)
}

func TestAuthorizeUnknownRoom(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	_, err := f.svc.Authorize(context.Background(), "nope", "")
	assert.ErrorIs(t, err, manager.ErrRoomNotFound)
	assert.Equal(t, "ROOM_NOT_FOUND", engine.Code(err))
}

func TestGetFallsBackToStore(t *testing.T) {
	cache := NewMemoryCache()
	f := newFixture(t, cache)
	ctx := context.Background()

	require.NoError(t, f.store.CreateRoom(ctx, storage.Room{ID: "r1", Name: "persisted", MaxPlayers: 4, MinBet: 1, MaxBet: 10, Visibility: VisibilityPublic}))
	room, err := f.svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", room.Name)

	_, ok, err := cache.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListActiveMergesSessions(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	ctx := context.Background()

	a, err := f.svc.Register(ctx, publicRoom("a"))
	require.NoError(t, err)
	b, err := f.svc.Register(ctx, publicRoom("b"))
	require.NoError(t, err)
	f.svc.BindSessions(fakeSessions{{ID: b.ID, PlayerCount: 3, Phase: engine.PhasePlaying, Round: 2}})

	rooms, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	byID := map[string]RoomView{}
	for _, r := range rooms {
		byID[r.ID] = r
	}
	assert.Equal(t, "WAITING", byID[a.ID].Status)
	assert.Equal(t, 0, byID[a.ID].PlayerCount)
	assert.Equal(t, "PLAYING", byID[b.ID].Status)
	assert.Equal(t, 3, byID[b.ID].PlayerCount)
	assert.Equal(t, Limits{MinBet: 10, MaxBet: 500, MaxPlayers: 5}, byID[b.ID].Limits)
}

func TestCloseSubmitsDelete(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, publicRoom("short-lived"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Close(ctx, resp.ID))

	_, err = f.store.GetRoom(ctx, resp.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.svc.Get(ctx, resp.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	c := NewRedisCache(rdb)
	now := time.Now().UTC()
	require.NoError(t, c.Put(ctx, storage.Room{ID: "r1", Name: "one", CreatedAt: now}, time.Minute))
	require.NoError(t, c.Put(ctx, storage.Room{ID: "r2", Name: "two", CreatedAt: now.Add(time.Second)}, time.Hour))

	room, ok, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", room.Name)

	rooms, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "r1", rooms[0].ID)

	// 过期的 key 在 List 时从索引里清掉
	mr.FastForward(2 * time.Minute)
	rooms, err = c.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r2", rooms[0].ID)
	members, err := mr.Members(roomIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, members)

	require.NoError(t, c.Delete(ctx, "r2"))
	_, ok, err = c.Get(ctx, "r2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandlerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, NewMemoryCache())
	r := gin.New()
	NewHandler(f.svc).Register(r)

	body, _ := json.Marshal(RegisterRequest{Name: "vip", MaxPlayers: 4, MinBet: 5, MaxBet: 50, Visibility: VisibilityPrivate, Password: "pw"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/rooms", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)
	var created RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "direct", created.Mode)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/rooms/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "passwordHash")
	assert.Contains(t, w.Body.String(), `"visibility":"private"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/rooms/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/rooms", bytes.NewReader([]byte(`{"name":""}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []RoomView `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, created.ID, list.Rooms[0].ID)
}
