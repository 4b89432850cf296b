package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/ollamaup/internal/clock"
	"github.com/kalambet/ollamaup/internal/models"
)

// --- fakes ---

type fakeServer struct{ running bool }

func (f *fakeServer) IsRunning(context.Context) bool { return f.running }

type fakeBinary struct{ installed bool }

func (f *fakeBinary) Installed(context.Context) bool { return f.installed }

type fakeInstall struct {
	mu         sync.Mutex
	installing bool
	settled    int
}

func (f *fakeInstall) ServerInstalling() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installing
}

func (f *fakeInstall) ServerInstallSettled() {
	f.mu.Lock()
	f.installing = false
	f.settled++
	f.mu.Unlock()
}

type fakeLister struct {
	calls atomic.Int32
	tags  []models.InstalledModel
	err   error
}

func (f *fakeLister) ListTags(context.Context) ([]models.InstalledModel, error) {
	f.calls.Add(1)
	return f.tags, f.err
}

func (f *fakeLister) ListInstalled(ctx context.Context) ([]models.InstalledModel, error) {
	return f.ListTags(ctx)
}

// slowLister takes delay per call so concurrent callers overlap.
type slowLister struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *slowLister) ListTags(context.Context) ([]models.InstalledModel, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return []models.InstalledModel{{Name: "a:latest", Digest: localDigest}}, nil
}

// gatedLister blocks its first call until release is closed.
type gatedLister struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	tags []models.InstalledModel
}

func (g *gatedLister) ListTags(context.Context) ([]models.InstalledModel, error) {
	g.mu.Lock()
	tags := g.tags
	g.mu.Unlock()
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return tags, nil
}

type fixedProber models.ServerStatus

func (f fixedProber) Probe(context.Context) models.ServerStatus { return models.ServerStatus(f) }

type fakeRemote struct {
	infos map[string]models.Info
	calls atomic.Int32
}

func (f *fakeRemote) RemoteInfo(_ context.Context, id string) (models.Info, bool) {
	f.calls.Add(1)
	info, ok := f.infos[id]
	return info, ok
}

type pullSet map[string]bool

func (p pullSet) Pulling(name string) bool { return p[name] }

// --- probe ---

func TestProbe_Started(t *testing.T) {
	p := NewProbe(&fakeServer{running: true}, &fakeBinary{}, nil)
	if got := p.Probe(context.Background()); got != models.ServerStarted {
		t.Errorf("Probe() = %s, want started", got)
	}
}

func TestProbe_StoppedWhenBinaryPresent(t *testing.T) {
	p := NewProbe(&fakeServer{running: false}, &fakeBinary{installed: true}, nil)
	if got := p.Probe(context.Background()); got != models.ServerStopped {
		t.Errorf("Probe() = %s, want stopped", got)
	}
}

func TestProbe_MissingWhenBinaryAbsent(t *testing.T) {
	p := NewProbe(&fakeServer{running: false}, &fakeBinary{installed: false}, nil)
	if got := p.Probe(context.Background()); got != models.ServerMissing {
		t.Errorf("Probe() = %s, want missing", got)
	}
}

func TestProbe_InstallingIsSticky(t *testing.T) {
	inst := &fakeInstall{installing: true}
	srv := &fakeServer{running: false}
	bin := &fakeBinary{installed: false}
	p := NewProbe(srv, bin, inst)

	if got := p.Probe(context.Background()); got != models.ServerInstalling {
		t.Errorf("Probe() = %s, want installing over missing", got)
	}
	bin.installed = true
	if got := p.Probe(context.Background()); got != models.ServerInstalling {
		t.Errorf("Probe() = %s, want installing over stopped", got)
	}

	srv.running = true
	if got := p.Probe(context.Background()); got != models.ServerStarted {
		t.Errorf("Probe() = %s, want started", got)
	}
	if inst.settled != 1 || inst.ServerInstalling() {
		t.Errorf("install not settled after started probe: settled=%d", inst.settled)
	}

	srv.running = false
	if got := p.Probe(context.Background()); got != models.ServerStopped {
		t.Errorf("Probe() after settle = %s, want stopped", got)
	}
}

// --- registry ---

func TestRegistry_TTLCollapsesBursts(t *testing.T) {
	lister := &fakeLister{tags: []models.InstalledModel{{Name: "m:latest", Digest: "d"}}}
	clk := clock.NewManual(time.Unix(0, 0))
	reg := NewRegistry(lister, 100*time.Millisecond, clk)

	for i := 0; i < 5; i++ {
		if _, err := reg.ListInstalled(context.Background()); err != nil {
			t.Fatalf("ListInstalled: %v", err)
		}
		clk.Advance(10 * time.Millisecond)
	}
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("lister calls = %d, want 1 within TTL", n)
	}

	clk.Advance(100 * time.Millisecond)
	reg.ListInstalled(context.Background())
	if n := lister.calls.Load(); n != 2 {
		t.Errorf("lister calls = %d, want 2 after TTL", n)
	}

	reg.Invalidate()
	reg.ListInstalled(context.Background())
	if n := lister.calls.Load(); n != 3 {
		t.Errorf("lister calls = %d, want 3 after Invalidate", n)
	}
}

func TestRegistry_ErrorsPropagateAndAreNotCached(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	reg := NewRegistry(lister, time.Hour, clock.NewManual(time.Unix(0, 0)))

	if _, err := reg.ListInstalled(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	lister.err = nil
	lister.tags = []models.InstalledModel{{Name: "m"}}
	tags, err := reg.ListInstalled(context.Background())
	if err != nil || len(tags) != 1 {
		t.Fatalf("ListInstalled after recovery = %v, %v", tags, err)
	}
}

func TestRegistry_ConcurrentMissesShareOneFetch(t *testing.T) {
	lister := &slowLister{delay: 50 * time.Millisecond}
	r := NewResolver(fixedProber(models.ServerStarted), NewRegistry(lister, 0, nil), nil, nil)

	snap := r.Snapshot(context.Background(), []string{"a", "b", "c", "d", "e"})
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("tag list fetched %d times for one snapshot, want 1", n)
	}
	if snap.ModelStatuses["a:latest"] != models.ModelInstalled || snap.ModelStatuses["e:latest"] != models.ModelMissing {
		t.Errorf("ModelStatuses = %v", snap.ModelStatuses)
	}
}

func TestRegistry_InvalidateDuringFetchDropsResult(t *testing.T) {
	lister := &gatedLister{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		tags:    []models.InstalledModel{{Name: "old:latest"}},
	}
	reg := NewRegistry(lister, time.Hour, clock.NewManual(time.Unix(0, 0)))

	done := make(chan struct{})
	go func() {
		reg.ListInstalled(context.Background())
		close(done)
	}()
	<-lister.entered

	reg.Invalidate()
	lister.mu.Lock()
	lister.tags = []models.InstalledModel{{Name: "old:latest"}, {Name: "new:latest"}}
	lister.mu.Unlock()
	close(lister.release)
	<-done

	tags, err := reg.ListInstalled(context.Background())
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if _, ok := Find(tags, "new"); !ok {
		t.Errorf("tags = %v, want the list fetched after Invalidate", tags)
	}
	if n := lister.calls.Load(); n != 2 {
		t.Errorf("lister calls = %d, want 2", n)
	}
}

func TestFind_Canonicalizes(t *testing.T) {
	tags := []models.InstalledModel{{Name: "granite-code:latest", Digest: "x"}}
	if _, ok := Find(tags, "granite-code"); !ok {
		t.Error("Find(granite-code) missed granite-code:latest")
	}
	if _, ok := Find(tags, "granite-code:3b"); ok {
		t.Error("Find(granite-code:3b) matched granite-code:latest")
	}
}

// --- resolver ---

const localDigest = "8a3c0f51e7b2aa11bb22cc33dd44ee55ff66778899aabbccddeeff0011223344"

func newTestResolver(server models.ServerStatus, tags []models.InstalledModel, remote map[string]models.Info, pulls pullSet) (*Resolver, *fakeLister, *fakeRemote) {
	lister := &fakeLister{tags: tags}
	rem := &fakeRemote{infos: remote}
	return NewResolver(fixedProber(server), lister, rem, pulls), lister, rem
}

func TestClassify_ServerNotStarted(t *testing.T) {
	for _, s := range []models.ServerStatus{models.ServerUnknown, models.ServerMissing, models.ServerStopped, models.ServerInstalling} {
		r, lister, _ := newTestResolver(s, nil, nil, pullSet{"m:latest": true})
		if got := r.ModelStatus(context.Background(), "m"); got != models.ModelUnknown {
			t.Errorf("server %s: status = %s, want unknown", s, got)
		}
		if lister.calls.Load() != 0 {
			t.Errorf("server %s: registry consulted", s)
		}
	}
}

func TestClassify_PullTakesPrecedence(t *testing.T) {
	// Registry reports nothing installed, yet the active pull wins.
	r, lister, rem := newTestResolver(models.ServerStarted, nil, nil, pullSet{"m:latest": true})
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelInstalling {
		t.Errorf("status = %s, want installing", got)
	}
	if lister.calls.Load() != 0 || rem.calls.Load() != 0 {
		t.Error("registry or remote consulted despite active pull")
	}
}

func TestClassify_Missing(t *testing.T) {
	remote := map[string]models.Info{"m:latest": {Digest: "ffffffffffff"}}
	r, _, rem := newTestResolver(models.ServerStarted, nil, remote, nil)
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelMissing {
		t.Errorf("status = %s, want missing (never stale when absent)", got)
	}
	if rem.calls.Load() != 0 {
		t.Error("remote consulted for a missing model")
	}
}

func TestClassify_InstalledWhenDigestMatches(t *testing.T) {
	tags := []models.InstalledModel{{Name: "m:latest", Digest: localDigest}}
	remote := map[string]models.Info{"m:latest": {Digest: localDigest[:12]}}
	r, _, _ := newTestResolver(models.ServerStarted, tags, remote, nil)
	if got := r.ModelStatus(context.Background(), "m:latest"); got != models.ModelInstalled {
		t.Errorf("status = %s, want installed", got)
	}
}

func TestClassify_Stale(t *testing.T) {
	tags := []models.InstalledModel{{Name: "m:latest", Digest: localDigest}}
	remote := map[string]models.Info{"m:latest": {Digest: "0123456789ab"}}
	r, _, _ := newTestResolver(models.ServerStarted, tags, remote, nil)
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelStale {
		t.Errorf("status = %s, want stale", got)
	}
}

func TestClassify_EmptyLocalDigestStaysInstalled(t *testing.T) {
	tags := []models.InstalledModel{{Name: "m:latest"}}
	remote := map[string]models.Info{"m:latest": {Digest: "0123456789ab"}}
	r, _, rem := newTestResolver(models.ServerStarted, tags, remote, nil)
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelInstalled {
		t.Errorf("status = %s, want installed when the local digest is unknown", got)
	}
	if rem.calls.Load() != 0 {
		t.Error("remote consulted without a local digest")
	}
}

func TestClassify_RemoteFailureStaysInstalled(t *testing.T) {
	tags := []models.InstalledModel{{Name: "m:latest", Digest: localDigest}}
	r, _, _ := newTestResolver(models.ServerStarted, tags, map[string]models.Info{}, nil)
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelInstalled {
		t.Errorf("status = %s, want installed when remote unavailable", got)
	}
}

func TestClassify_RegistryErrorIsUnknown(t *testing.T) {
	r := NewResolver(fixedProber(models.ServerStarted), &fakeLister{err: errors.New("boom")}, nil, nil)
	if got := r.ModelStatus(context.Background(), "m"); got != models.ModelUnknown {
		t.Errorf("status = %s, want unknown", got)
	}
}

func TestSnapshot(t *testing.T) {
	tags := []models.InstalledModel{
		{Name: "a:latest", Digest: localDigest},
		{Name: "b:3b", Digest: localDigest},
	}
	remote := map[string]models.Info{"b:3b": {Digest: "0123456789ab"}}
	r, lister, _ := newTestResolver(models.ServerStarted, tags, remote, pullSet{"d:latest": true})
	// Share one cached listing across the fan-out.
	r.registry = NewRegistry(lister, time.Minute, nil)

	snap := r.Snapshot(context.Background(), []string{"a", "b:3b", "c", "d", "a:latest"})
	want := map[string]models.ModelStatus{
		"a:latest": models.ModelInstalled,
		"b:3b":     models.ModelStale,
		"c:latest": models.ModelMissing,
		"d:latest": models.ModelInstalling,
	}
	if snap.ServerStatus != models.ServerStarted {
		t.Errorf("ServerStatus = %s", snap.ServerStatus)
	}
	if len(snap.ModelStatuses) != len(want) {
		t.Fatalf("ModelStatuses = %v", snap.ModelStatuses)
	}
	for k, v := range want {
		if snap.ModelStatuses[k] != v {
			t.Errorf("ModelStatuses[%s] = %s, want %s", k, snap.ModelStatuses[k], v)
		}
	}
}
