package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

type fakeInjector struct {
	mu     sync.Mutex
	cmds   []Command
	full   bool
	closed bool
}

func (f *fakeInjector) Inject(cmd Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.cmds = append(f.cmds, cmd)
	return true
}

func (f *fakeInjector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInjector) sent() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.cmds...)
}

func (f *fakeInjector) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type mockAreas struct {
	saveFn   func(ctx context.Context, ring orb.Ring) (string, error)
	deleteFn func(ctx context.Context, id string) error
	areas    domain.AreaSet
	saved    []orb.Ring
	deleted  []string
}

func (m *mockAreas) Save(ctx context.Context, ring orb.Ring) (string, error) {
	m.saved = append(m.saved, ring)
	if m.saveFn != nil {
		return m.saveFn(ctx, ring)
	}
	return "new-id", nil
}

func (m *mockAreas) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockAreas) Snapshot() domain.AreaSet { return m.areas.Clone() }

type staticFix struct {
	loc *domain.Location
}

func (s *staticFix) LastFix() (domain.Location, bool) {
	if s.loc == nil {
		return domain.Location{}, false
	}
	return *s.loc, true
}

func newTestBridge(areas *mockAreas, fixes *staticFix) *Bridge {
	log, _ := test.NewNullLogger()
	return New(areas, fixes, Config{}, log)
}

func post(t *testing.T, b *Bridge, surface, msg string) error {
	t.Helper()
	return b.HandlePostback(context.Background(), surface, []byte(msg))
}

var fixAtKingston = &domain.Location{Lat: 17.995, Lon: -76.921, Timestamp: time.UnixMilli(1715003456000)}

func TestMapReady_InjectsSnapshotOnly(t *testing.T) {
	areas := &mockAreas{areas: domain.AreaSet{"a1": {ID: "a1", Ring: ring}}}
	b := newTestBridge(areas, &staticFix{})
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)
	assert.Equal(t, StateLoading, sess.State())

	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))

	assert.Equal(t, StateReady, sess.State())
	cmds := inj.sent()
	require.Len(t, cmds, 1)
	snap, ok := cmds[0].(AreasSnapshot)
	require.True(t, ok)
	assert.Contains(t, snap.Areas, "a1")
}

func TestMapReady_WithFixGoesActive(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{loc: fixAtKingston})
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)

	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))

	assert.Equal(t, StateActive, sess.State())
	cmds := inj.sent()
	require.Len(t, cmds, 2)
	assert.Equal(t, ViewTo{Lat: 17.995, Lng: -76.921, Zoom: DefaultZoom}, cmds[1])
}

func TestCommandsNotInjectedWhileLoading(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{loc: fixAtKingston})
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)

	b.BroadcastSnapshot(domain.AreaSet{})
	require.NoError(t, post(t, b, "main", `{"type":"requestLocation"}`))

	assert.Empty(t, inj.sent())
	assert.Equal(t, StateLoading, sess.State())
}

func TestRequestLocation(t *testing.T) {
	fixes := &staticFix{}
	b := newTestBridge(&mockAreas{}, fixes)
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)
	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))

	// no fix yet: nothing beyond the snapshot
	require.NoError(t, post(t, b, "main", `{"type":"requestLocation"}`))
	assert.Len(t, inj.sent(), 1)
	assert.Equal(t, StateReady, sess.State())

	fixes.loc = fixAtKingston
	require.NoError(t, post(t, b, "main", `{"type":"requestLocation"}`))
	cmds := inj.sent()
	require.Len(t, cmds, 2)
	assert.IsType(t, ViewTo{}, cmds[1])
	assert.Equal(t, StateActive, sess.State())
}

func TestNotifyFix_OnlyCentresReadySurfaces(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	ready, loading := &fakeInjector{}, &fakeInjector{}
	readySess := b.Attach("ready", ready)
	b.Attach("loading", loading)
	require.NoError(t, post(t, b, "ready", `{"type":"mapReady"}`))

	b.NotifyFix(*fixAtKingston)
	assert.Equal(t, StateActive, readySess.State())
	assert.Len(t, ready.sent(), 2)
	assert.Empty(t, loading.sent())

	b.NotifyFix(*fixAtKingston)
	assert.Len(t, ready.sent(), 2, "active surface should not be recentred")
}

func TestPolygonAndUpdateArea_Save(t *testing.T) {
	areas := &mockAreas{}
	b := newTestBridge(areas, &staticFix{})
	b.Attach("main", &fakeInjector{})

	// processed even before mapReady
	require.NoError(t, post(t, b, "main",
		`{"type":"polygon","geometry":{"type":"Polygon","coordinates":[[[-76.92,17.996],[-76.922,17.995],[-76.921,17.994]]]}}`))
	require.NoError(t, post(t, b, "main",
		`{"type":"updateArea","coordinates":[[-76.92,17.996],[-76.922,17.995],[-76.921,17.994]],"center":[0,0]}`))

	require.Len(t, areas.saved, 2)
	assert.Equal(t, ring, areas.saved[0])
	assert.Equal(t, ring, areas.saved[1])
}

func TestPolygon_SaveErrorReturned(t *testing.T) {
	areas := &mockAreas{saveFn: func(_ context.Context, _ orb.Ring) (string, error) {
		return "", domain.ErrTransport
	}}
	b := newTestBridge(areas, &staticFix{})
	b.Attach("main", &fakeInjector{})

	err := post(t, b, "main", `{"type":"updateArea","coordinates":[[1,1],[2,2],[3,1]]}`)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestAreaDeleted_Resolution(t *testing.T) {
	areas := &mockAreas{areas: domain.AreaSet{
		"a1": {ID: "a1", Ring: append(append(orb.Ring(nil), ring...), ring[0])},
		"a2": {ID: "a2", Ring: orb.Ring{{0, 0}, {1, 0}, {0, 1}}},
	}}
	b := newTestBridge(areas, &staticFix{})
	b.Attach("main", &fakeInjector{})

	require.NoError(t, post(t, b, "main", `{"type":"areaDeleted","id":"a2"}`))
	require.NoError(t, post(t, b, "main",
		`{"type":"areaDeleted","geometry":{"type":"Polygon","coordinates":[[[-76.92,17.996],[-76.922,17.995],[-76.921,17.994]]]}}`))
	require.NoError(t, post(t, b, "main",
		`{"type":"areaDeleted","geometry":{"type":"Polygon","coordinates":[[[5,5],[6,5],[5,6]]]}}`))
	require.NoError(t, post(t, b, "main", `{"type":"deleteArea"}`))

	assert.Equal(t, []string{"a2", "a1"}, areas.deleted)
}

func TestMalformedPostback_DoesNotChangeState(t *testing.T) {
	areas := &mockAreas{}
	b := newTestBridge(areas, &staticFix{})
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)
	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))

	err := post(t, b, "main", `{"type":"polygon","geometry":{"type":"Polygon","coordinates":[[[1,2],[3,4]]]}}`)
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
	assert.Equal(t, StateReady, sess.State())
	assert.Empty(t, areas.saved)

	// the next message is decoded on its own
	require.NoError(t, post(t, b, "main", `{"type":"updateArea","coordinates":[[1,1],[2,2],[3,1]]}`))
	assert.Len(t, areas.saved, 1)
}

func TestPostback_UnknownSurface(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	assert.ErrorIs(t, post(t, b, "ghost", `{"type":"mapReady"}`), ErrSurfaceNotFound)
}

func TestFailAndRetry(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)
	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))

	assert.ErrorIs(t, b.Retry("main"), domain.ErrSurfaceAvailable)

	b.Fail("main", inj, domain.ErrSurfaceLoad)
	assert.Equal(t, StateUnavailable, sess.State())
	assert.True(t, inj.isClosed())
	assert.Equal(t, "surface load error", sess.Info().Error)

	b.BroadcastSnapshot(domain.AreaSet{})
	assert.Len(t, inj.sent(), 1, "no injection while unavailable")

	require.NoError(t, b.Retry("main"))
	assert.Equal(t, StateLoading, sess.State())
	assert.ErrorIs(t, b.Retry("main"), domain.ErrSurfaceAvailable)

	next := &fakeInjector{}
	assert.Same(t, sess, b.Attach("main", next))
	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))
	assert.Equal(t, StateReady, sess.State())
	assert.Len(t, next.sent(), 1)
}

func TestFail_StaleInjectorIgnored(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	old := &fakeInjector{}
	b.Attach("main", old)
	current := &fakeInjector{}
	sess := b.Attach("main", current)
	assert.True(t, old.isClosed())

	b.Fail("main", old, domain.ErrSurfaceLoad)
	assert.Equal(t, StateLoading, sess.State())
	assert.False(t, current.isClosed())
}

func TestRetry_UnknownSurface(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	assert.ErrorIs(t, b.Retry("ghost"), ErrSurfaceNotFound)
}

func TestReadyTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	b := New(&mockAreas{}, &staticFix{}, Config{ReadyTimeout: 20 * time.Millisecond}, log)
	inj := &fakeInjector{}
	sess := b.Attach("main", inj)

	assert.Eventually(t, func() bool { return sess.State() == StateUnavailable }, time.Second, 5*time.Millisecond)
	assert.True(t, inj.isClosed())

	ready := New(&mockAreas{}, &staticFix{}, Config{ReadyTimeout: 20 * time.Millisecond}, log)
	readySess := ready.Attach("main", &fakeInjector{})
	require.NoError(t, post(t, ready, "main", `{"type":"mapReady"}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateReady, readySess.State())
}

func TestRetryRearmsReadyTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	b := New(&mockAreas{}, &staticFix{}, Config{ReadyTimeout: 20 * time.Millisecond}, log)
	first := &fakeInjector{}
	sess := b.Attach("main", first)
	b.Fail("main", first, errors.New("tiles failed"))
	require.Equal(t, StateUnavailable, sess.State())

	require.NoError(t, b.Retry("main"))
	assert.Equal(t, StateLoading, sess.State())
	assert.Eventually(t, func() bool { return sess.State() == StateUnavailable }, time.Second, 5*time.Millisecond,
		"a retried surface that never reconnects must fail again")

	require.NoError(t, b.Retry("main"))
	inj := &fakeInjector{}
	b.Attach("main", inj)
	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateReady, sess.State())
	assert.False(t, inj.isClosed())
}

func TestQueueFullDropsCommand(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{loc: fixAtKingston})
	inj := &fakeInjector{full: true}
	sess := b.Attach("main", inj)

	require.NoError(t, post(t, b, "main", `{"type":"mapReady"}`))
	assert.Equal(t, StateReady, sess.State(), "dropped viewTo must not activate")
}

func TestDetach(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	inj := &fakeInjector{}
	b.Attach("main", inj)

	b.Detach("main", &fakeInjector{})
	assert.Len(t, b.Sessions(), 1)

	b.Detach("main", inj)
	assert.Empty(t, b.Sessions())
}

func setupRouter(b *Bridge) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	b.Register(r.Group(""))
	return r
}

func TestClose_ClosesEverySurface(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	first, second := &fakeInjector{}, &fakeInjector{}
	b.Attach("main", first)
	b.Attach("mini", second)
	b.Fail("mini", second, errors.New("tiles failed"))

	b.Close()

	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Empty(t, b.Sessions())
	assert.ErrorIs(t, b.Retry("mini"), ErrSurfaceNotFound)
}

func TestHTTP_ListAndRetry(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	inj := &fakeInjector{}
	b.Attach("b", inj)
	b.Attach("a", &fakeInjector{})
	r := setupRouter(b)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/bridge", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var infos []struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "loading", infos[0].State)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/bridge/b/retry", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	b.Fail("b", inj, errors.New("boom"))
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/bridge/b/retry", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/bridge/ghost/retry", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
