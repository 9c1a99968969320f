package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	handler func(domain.Location)
	started int
	stopped int
	err     error
}

func (f *fakeSource) Start(handler func(domain.Location)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.handler = handler
	f.started++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

// emit delivers a sample the way a platform callback would, even after Stop.
func (f *fakeSource) emit(loc domain.Location) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(loc)
	}
}

type recordingChecker struct {
	mu      sync.Mutex
	samples []domain.Location
	resets  int
	block   chan struct{}
	entered chan struct{}
	err     error
}

func (r *recordingChecker) CheckAndAlert(_ context.Context, loc *domain.Location) error {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.samples = append(r.samples, *loc)
	r.mu.Unlock()
	return r.err
}

func (r *recordingChecker) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

func (r *recordingChecker) resetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

func (r *recordingChecker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

var base = time.UnixMilli(1715003456000)

func fix(p orb.Point, after time.Duration) domain.Location {
	return domain.Location{Lat: p[1], Lon: p[0], Accuracy: 5, Timestamp: base.Add(after)}
}

func newTestTracker(src PositionSource, perms permissionChecker, checker sampleHandler) *Tracker {
	log, _ := test.NewNullLogger()
	return NewTracker(src, perms, checker, TrackerConfig{}, log)
}

func TestTrackerStart_PermissionDenied(t *testing.T) {
	src := &fakeSource{}
	perms := allGranted()
	perms.Set(domain.PermissionBackgroundLocation, false)
	tr := newTestTracker(src, perms, &recordingChecker{})

	err := tr.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, 0, src.started)

	status := tr.Status()
	assert.False(t, status.Running)
	assert.Equal(t, []domain.Permission{domain.PermissionBackgroundLocation}, status.Denied)
}

func TestTrackerStart_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("gps off")}
	tr := newTestTracker(src, allGranted(), &recordingChecker{})

	require.Error(t, tr.Start(context.Background()))
	assert.False(t, tr.Status().Running)
}

func TestTrackerStart_Idempotent(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src, allGranted(), &recordingChecker{})

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, 1, src.started)
	assert.True(t, tr.Status().Running)
}

func TestTrackerStop_NeverStarted(t *testing.T) {
	src := &fakeSource{}
	checker := &recordingChecker{}
	tr := newTestTracker(src, allGranted(), checker)

	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())
	assert.Equal(t, 0, src.stopped)
	assert.Equal(t, 0, checker.resetCount())
}

func TestTracker_CadenceFilter(t *testing.T) {
	src := &fakeSource{}
	checker := &recordingChecker{}
	tr := newTestTracker(src, allGranted(), checker)
	require.NoError(t, tr.Start(context.Background()))

	origin := orb.Point{-76.921, 17.995}

	src.emit(fix(origin, 0))                           // first sample always delivered
	src.emit(fix(origin, 3*time.Second))               // neither threshold
	src.emit(fix(northOf(origin, 5), 6*time.Second))   // 5m, 6s: neither
	src.emit(fix(northOf(origin, 15), 7*time.Second))  // distance threshold
	src.emit(fix(northOf(origin, 16), 17*time.Second)) // time threshold

	require.Equal(t, 3, checker.count())
	assert.Equal(t, base, checker.samples[0].Timestamp)
	assert.Equal(t, base.Add(7*time.Second), checker.samples[1].Timestamp)
	assert.Equal(t, base.Add(17*time.Second), checker.samples[2].Timestamp)

	last, ok := tr.LastFix()
	require.True(t, ok)
	assert.Equal(t, base.Add(17*time.Second), last.Timestamp)
}

func TestTracker_CheckErrorKeepsSampling(t *testing.T) {
	src := &fakeSource{}
	checker := &recordingChecker{err: errors.New("store down")}
	tr := newTestTracker(src, allGranted(), checker)
	require.NoError(t, tr.Start(context.Background()))

	origin := orb.Point{-76.921, 17.995}
	src.emit(fix(origin, 0))
	src.emit(fix(origin, 20*time.Second))

	assert.Equal(t, 2, checker.count())
	assert.True(t, tr.Status().Running)
}

func TestTracker_OnFix(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src, allGranted(), &recordingChecker{})
	var got []domain.Location
	var second int
	tr.OnFix(func(loc domain.Location) { got = append(got, loc) })
	tr.OnFix(func(domain.Location) { second++ })
	require.NoError(t, tr.Start(context.Background()))

	src.emit(fix(orb.Point{1, 1}, 0))
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Lat)
	assert.Equal(t, 1, second)
}

func TestTrackerStop_WaitsForInflightSample(t *testing.T) {
	src := &fakeSource{}
	checker := &recordingChecker{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	tr := newTestTracker(src, allGranted(), checker)
	require.NoError(t, tr.Start(context.Background()))

	go src.emit(fix(orb.Point{1, 1}, 0))
	<-checker.entered

	stopped := make(chan struct{})
	go func() {
		_ = tr.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sample was still being evaluated")
	case <-time.After(50 * time.Millisecond):
	}

	close(checker.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the sample completed")
	}
	assert.Equal(t, 1, checker.count())
	assert.Equal(t, 1, src.stopped)
}

func TestTracker_SamplesAfterStopDropped(t *testing.T) {
	src := &fakeSource{}
	checker := &recordingChecker{}
	tr := newTestTracker(src, allGranted(), checker)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop())

	src.emit(fix(orb.Point{1, 1}, 0))
	assert.Equal(t, 0, checker.count())
	_, ok := tr.LastFix()
	assert.False(t, ok)
	assert.Equal(t, 1, checker.resetCount())
}
