package physics

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"simhost/server/internal/telemetry"
	"simhost/server/internal/world"
)

const fallingBox = `world:
  name: drop
  physics:
    stepSize: 0.01
    realTimeFactor: 1000
  models:
    - name: box
      pose: 0 0 10 0 0 0
    - name: ground
      static: true
`

func parse(t *testing.T, text string) *world.Description {
	t.Helper()
	desc, err := world.ParseString(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return desc
}

func newLoadedRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Discard()
	}
	r := NewRegistry(cfg)
	r.Load()
	t.Cleanup(r.Fini)
	return r
}

func TestCreateWorldRequiresLoadAndUniqueName(t *testing.T) {
	r := NewRegistry(Config{Logger: telemetry.Discard()})
	if _, err := r.CreateWorld("default"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	r.Load()
	if _, err := r.CreateWorld("default"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := r.CreateWorld("default"); !errors.Is(err, ErrWorldExists) {
		t.Fatalf("expected ErrWorldExists, got %v", err)
	}
	r.Fini()
}

func TestStepIntegratesGravityAndSkipsStatic(t *testing.T) {
	r := newLoadedRegistry(t, Config{})
	w, _ := r.CreateWorld("default")
	if err := r.LoadWorld(w, parse(t, fallingBox)); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		w.Step()
	}
	snap := w.Snapshot()
	if snap.Iterations != 10 || snap.SimTime != 100*time.Millisecond {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	box, ground := snap.Models[0], snap.Models[1]
	if box.Position.Z() >= 10 || box.Velocity.Z() >= 0 {
		t.Fatalf("expected box to fall, got %+v", box)
	}
	if ground.Position.Z() != 0 || ground.Velocity.Z() != 0 {
		t.Fatalf("expected static ground untouched, got %+v", ground)
	}
}

func TestRunStopAndPause(t *testing.T) {
	r := newLoadedRegistry(t, Config{})
	w, _ := r.CreateWorld("default")
	if err := r.LoadWorld(w, parse(t, fallingBox)); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	r.RunWorld(w)
	if w.Running() {
		t.Fatalf("expected world not to run before init")
	}
	r.InitWorlds()
	r.RunWorlds()
	if !w.Running() {
		t.Fatalf("expected world running")
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.Snapshot().Iterations == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if w.Snapshot().Iterations == 0 {
		t.Fatalf("expected the world goroutine to step")
	}

	r.PauseWorlds(true)
	time.Sleep(5 * time.Millisecond)
	paused := w.Snapshot().Iterations
	time.Sleep(10 * time.Millisecond)
	if got := w.Snapshot().Iterations; got != paused {
		t.Fatalf("expected no steps while paused, %d -> %d", paused, got)
	}

	r.StopWorlds()
	if w.Running() {
		t.Fatalf("expected world stopped")
	}
}

func TestLoadWorldEnforcesModelLimit(t *testing.T) {
	r := newLoadedRegistry(t, Config{MaxModels: 1})
	w, _ := r.CreateWorld("default")
	if err := r.LoadWorld(w, parse(t, fallingBox)); err == nil {
		t.Fatalf("expected model limit error")
	}
}

func TestCheckLeavesRegistryUntouched(t *testing.T) {
	r := newLoadedRegistry(t, Config{MaxModels: 2})
	desc := parse(t, fallingBox)
	if err := r.Check(desc); err != nil {
		t.Fatalf("expected description within limits, got %v", err)
	}
	desc.World.Models = append(desc.World.Models, world.Model{Name: "extra", Mass: 1})
	if err := r.Check(desc); err == nil {
		t.Fatalf("expected model limit error")
	}
	desc.World.Models = desc.World.Models[:2]
	desc.World.Physics.StepSize = 1e-13
	if err := r.Check(desc); err == nil {
		t.Fatalf("expected step size error")
	}
	if err := r.Check(nil); err == nil {
		t.Fatalf("expected error for missing description")
	}
	if worlds := r.Worlds(); len(worlds) != 0 {
		t.Fatalf("expected no worlds registered, got %d", len(worlds))
	}
}

func TestRemoveWorldsForgetsEverything(t *testing.T) {
	r := newLoadedRegistry(t, Config{})
	w, _ := r.CreateWorld("default")
	r.LoadWorld(w, parse(t, fallingBox))
	r.InitWorld(w)
	r.RunWorld(w)
	r.RemoveWorlds()
	if _, ok := r.GetWorld("default"); ok {
		t.Fatalf("expected world removed")
	}
	if w.Running() {
		t.Fatalf("expected removed world stopped")
	}
	if _, err := r.CreateWorld("default"); err != nil {
		t.Fatalf("expected name reusable after removal: %v", err)
	}
}

func TestSaveWritesCurrentState(t *testing.T) {
	r := newLoadedRegistry(t, Config{})
	w, _ := r.CreateWorld("default")
	r.LoadWorld(w, parse(t, fallingBox))
	for i := 0; i < 5; i++ {
		w.Step()
	}
	path := filepath.Join(t.TempDir(), "nested", "saved.sdf")
	if err := w.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	saved, err := world.ParseFile(world.NewResolver(nil), path)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	want := w.Snapshot().Models[0].Position
	if got := saved.World.Models[0].Pose.Position; got != want {
		t.Fatalf("expected saved position %v, got %v", want, got)
	}
}
