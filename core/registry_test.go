package core

import (
	"context"
	"sync"
	"testing"
)

type fakeSubsystem struct {
	mu       sync.Mutex
	info     SubsystemInfo
	startErr error
	started  bool
	stopped  bool
	health   HealthStatus
}

func (f *fakeSubsystem) Info() SubsystemInfo { return f.info }

func (f *fakeSubsystem) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSubsystem) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSubsystem) HealthCheck(ctx context.Context) HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeSubsystem) ReloadConfig(raw []byte) error { return nil }

func TestRegistryStartsInDependencyOrder(t *testing.T) {
	var order []SubsystemId
	var mu sync.Mutex

	makeTracked := func(id SubsystemId, name string, deps []SubsystemId) *trackedSubsystem {
		return &trackedSubsystem{
			fakeSubsystem: &fakeSubsystem{info: SubsystemInfo{ID: id, Name: name, DependsOn: deps, Required: true}, health: HealthHealthy},
			onStart: func() {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, id)
			},
		}
	}

	storage := makeTracked(SubsystemStorage, "storage", nil)
	consensus := makeTracked(SubsystemConsensus, "consensus", []SubsystemId{SubsystemStorage})

	r := NewRegistry(RegistryConfig{}, nil)
	r.Register(consensus)
	r.Register(storage)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Shutdown(context.Background())

	if len(order) != 2 || order[0] != SubsystemStorage || order[1] != SubsystemConsensus {
		t.Fatalf("expected storage before consensus, got %v", order)
	}
}

// trackedSubsystem wraps fakeSubsystem to observe start order without
// widening fakeSubsystem's own fields.
type trackedSubsystem struct {
	*fakeSubsystem
	onStart func()
}

func (t *trackedSubsystem) Start(ctx context.Context) error {
	if err := t.fakeSubsystem.Start(ctx); err != nil {
		return err
	}
	t.onStart()
	return nil
}

func TestRegistryRequiredSubsystemFailureAborts(t *testing.T) {
	failing := &fakeSubsystem{info: SubsystemInfo{ID: SubsystemStorage, Name: "storage", Required: true}, startErr: errBoom}
	r := NewRegistry(RegistryConfig{}, nil)
	r.Register(failing)

	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to abort when a required subsystem fails")
	}
	if kind, _ := KindOf(err); kind != ErrNodeUnhealthy {
		t.Fatalf("expected ErrNodeUnhealthy, got %v", kind)
	}
}

func TestRegistryOptionalSubsystemFailureContinues(t *testing.T) {
	failing := &fakeSubsystem{info: SubsystemInfo{ID: SubsystemStorage, Name: "optional", Required: false}, startErr: errBoom}
	ok := &fakeSubsystem{info: SubsystemInfo{ID: SubsystemConsensus, Name: "consensus", Required: true}, health: HealthHealthy}

	r := NewRegistry(RegistryConfig{}, nil)
	r.Register(failing)
	r.Register(ok)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("expected Start to succeed despite the optional subsystem failing, got %v", err)
	}
	defer r.Shutdown(context.Background())

	status := r.Status()
	if status[SubsystemStorage] != HealthDisabled {
		t.Fatalf("expected the failed optional subsystem to be marked Disabled, got %v", status[SubsystemStorage])
	}
}

func TestRegistryRejectsUnregisteredDependency(t *testing.T) {
	consensus := &fakeSubsystem{info: SubsystemInfo{ID: SubsystemConsensus, Name: "consensus", DependsOn: []SubsystemId{SubsystemStorage}}}
	r := NewRegistry(RegistryConfig{}, nil)
	r.Register(consensus)

	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error for a dependency on an unregistered subsystem")
	}
	if kind, _ := KindOf(err); kind != ErrInsufficientNodes {
		t.Fatalf("expected ErrInsufficientNodes, got %v", kind)
	}
}

var errBoom = NewError(ErrNodeUnhealthy, "boom")
