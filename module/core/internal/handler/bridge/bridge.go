package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
)

const (
	DefaultZoom      = 15
	DefaultQueueSize = 16
)

var ErrSurfaceNotFound = errors.New("surface not found")

type areaService interface {
	Save(ctx context.Context, ring orb.Ring) (string, error)
	Delete(ctx context.Context, id string) error
	Snapshot() domain.AreaSet
}

type fixProvider interface {
	LastFix() (domain.Location, bool)
}

type Config struct {
	DefaultZoom  int
	QueueSize    int
	ReadyTimeout time.Duration
}

// Bridge carries geometry from map surfaces into the area service and
// pushes snapshots and viewport commands back out to them.
type Bridge struct {
	areas areaService
	fixes fixProvider
	cfg   Config
	log   logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(areas areaService, fixes fixProvider, cfg Config, log logrus.FieldLogger) *Bridge {
	if cfg.DefaultZoom <= 0 {
		cfg.DefaultZoom = DefaultZoom
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Bridge{
		areas:    areas,
		fixes:    fixes,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Attach binds inj as the connected surface for surfaceID and starts its
// lifecycle in Loading.
func (b *Bridge) Attach(surfaceID string, inj Injector) *Session {
	b.mu.Lock()
	sess, ok := b.sessions[surfaceID]
	if !ok {
		sess = newSession(surfaceID, b.log)
		b.sessions[surfaceID] = sess
	}
	b.mu.Unlock()

	sess.attach(inj, b.cfg.ReadyTimeout)
	return sess
}

// Detach forgets a surface that closed cleanly.
func (b *Bridge) Detach(surfaceID string, inj Injector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[surfaceID]
	if !ok {
		return
	}
	if sess.detach(inj) {
		delete(b.sessions, surfaceID)
	}
}

// Fail marks the surface Unavailable after a transport or load error. The
// session is kept so it can be retried.
func (b *Bridge) Fail(surfaceID string, inj Injector, err error) {
	sess := b.session(surfaceID)
	if sess == nil {
		return
	}
	sess.fail(inj, err)
}

// Close disconnects every surface and forgets all sessions.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	for _, sess := range sessions {
		if inj := sess.close(); inj != nil {
			_ = inj.Close()
		}
	}
	b.log.WithField("sessions", len(sessions)).Info("bridge closed")
}

func (b *Bridge) Retry(surfaceID string) error {
	sess := b.session(surfaceID)
	if sess == nil {
		return ErrSurfaceNotFound
	}
	return sess.retry(b.cfg.ReadyTimeout)
}

func (b *Bridge) Sessions() []SessionInfo {
	b.mu.RLock()
	infos := make([]SessionInfo, 0, len(b.sessions))
	for _, sess := range b.sessions {
		infos = append(infos, sess.Info())
	}
	b.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (b *Bridge) session(surfaceID string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[surfaceID]
}

func (b *Bridge) allSessions() []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		out = append(out, sess)
	}
	return out
}

// HandlePostback decodes and applies one surface message. Malformed
// messages are dropped without touching the session state.
func (b *Bridge) HandlePostback(ctx context.Context, surfaceID string, data []byte) error {
	sess := b.session(surfaceID)
	if sess == nil {
		return ErrSurfaceNotFound
	}

	msg, err := DecodeSurfaceMessage(data)
	if err != nil {
		metrics.BridgeMalformedTotal.Inc()
		sess.log.WithError(err).Warn("malformed surface message dropped")
		return err
	}
	metrics.BridgeMessagesTotal.WithLabelValues("in", msg.Type()).Inc()

	switch m := msg.(type) {
	case MapReady:
		b.handleMapReady(sess)
	case RequestLocation:
		b.handleRequestLocation(sess)
	case Polygon:
		return b.saveRing(ctx, sess, m.Ring)
	case UpdateArea:
		return b.saveRing(ctx, sess, m.Ring)
	case AreaDeleted:
		return b.handleAreaDeleted(ctx, sess, m)
	}
	return nil
}

func (b *Bridge) handleMapReady(sess *Session) {
	if !sess.ready() {
		sess.log.WithField("state", sess.State()).Warn("mapReady ignored")
		return
	}
	sess.inject(AreasSnapshot{Areas: b.areas.Snapshot()})
	if fix, ok := b.fixes.LastFix(); ok {
		b.viewTo(sess, fix)
	}
}

func (b *Bridge) handleRequestLocation(sess *Session) {
	fix, ok := b.fixes.LastFix()
	if !ok {
		sess.log.Info("location requested before first fix")
		return
	}
	b.viewTo(sess, fix)
}

func (b *Bridge) viewTo(sess *Session, fix domain.Location) {
	if sess.inject(ViewTo{Lat: fix.Lat, Lng: fix.Lon, Zoom: b.cfg.DefaultZoom}) {
		sess.activate()
	}
}

func (b *Bridge) saveRing(ctx context.Context, sess *Session, ring orb.Ring) error {
	id, err := b.areas.Save(ctx, ring)
	if err != nil {
		sess.log.WithError(err).Error("save area from surface")
		return err
	}
	sess.log.WithField("area_id", id).Info("area saved from surface")
	return nil
}

func (b *Bridge) handleAreaDeleted(ctx context.Context, sess *Session, m AreaDeleted) error {
	id := m.ID
	if id == "" && m.Ring != nil {
		id = matchRing(b.areas.Snapshot(), m.Ring)
	}
	if id == "" {
		sess.log.Info("area deleted on surface, no stored area matched")
		return nil
	}

	if err := b.areas.Delete(ctx, id); err != nil {
		sess.log.WithError(err).WithField("area_id", id).Error("delete area from surface")
		return err
	}
	sess.log.WithField("area_id", id).Info("area deleted from surface")
	return nil
}

// matchRing finds the area whose ring has exactly the same vertices as
// ring, ignoring a closing vertex on either side.
func matchRing(areas domain.AreaSet, ring orb.Ring) string {
	want := openRing(ring)
	ids := make([]string, 0, len(areas))
	for id := range areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		got := openRing(areas[id].Ring)
		if len(got) != len(want) {
			continue
		}
		same := true
		for i := range got {
			if got[i] != want[i] {
				same = false
				break
			}
		}
		if same {
			return id
		}
	}
	return ""
}

func openRing(ring orb.Ring) orb.Ring {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

// BroadcastSnapshot pushes areas to every surface that accepts commands.
func (b *Bridge) BroadcastSnapshot(areas domain.AreaSet) {
	for _, sess := range b.allSessions() {
		sess.inject(AreasSnapshot{Areas: areas})
	}
}

// NotifyFix centres surfaces still waiting for their first fix. Active
// surfaces are left where the user put them.
func (b *Bridge) NotifyFix(loc domain.Location) {
	for _, sess := range b.allSessions() {
		if sess.State() == StateReady {
			b.viewTo(sess, loc)
		}
	}
}

func (b *Bridge) Register(r *gin.RouterGroup) {
	r.GET("/bridge", b.ListSessions)
	r.GET("/bridge/:surface", b.ServeSurface)
	r.POST("/bridge/:surface/retry", b.RetrySurface)
}

func (b *Bridge) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, b.Sessions())
}

func (b *Bridge) RetrySurface(c *gin.Context) {
	err := b.Retry(c.Param("surface"))
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, ErrSurfaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "surface not found"})
	case errors.Is(err, domain.ErrSurfaceAvailable):
		c.JSON(http.StatusConflict, gin.H{"error": "surface is not unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("retry: %v", err)})
	}
}
