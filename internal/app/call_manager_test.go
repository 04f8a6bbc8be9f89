package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/frontdesk/internal/credential"
	"github.com/MrWong99/frontdesk/internal/registrar"
	"github.com/MrWong99/frontdesk/pkg/transport/mock"
	"github.com/MrWong99/frontdesk/pkg/types"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, tr *mock.Transport) (*CallManager, *stepClock) {
	t.Helper()
	gw, err := credential.New(credential.Config{
		APIKey:    "key",
		APISecret: "secret-secret-secret",
		URL:       "wss://voice.test",
	})
	if err != nil {
		t.Fatal(err)
	}
	clk := &stepClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	n := 0
	var mu sync.Mutex
	cm := NewCallManager(CallManagerConfig{
		Credentials: gw,
		Transport:   tr,
		Registrar:   registrar.New(),
		Profile:     types.DefaultCallProfile(),
		Retention:   time.Minute,
		Now:         clk.Now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return string(rune('a' + n - 1))
		},
	})
	t.Cleanup(func() { _ = cm.Shutdown(context.Background()) })
	return cm, clk
}

func waitFor(t *testing.T, cm *CallManager, id string, want types.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v, err := cm.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if v.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", v.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallManager_PruneHonoursRetention(t *testing.T) {
	t.Parallel()

	cm, clk := newTestManager(t, &mock.Transport{ConnectResult: &mock.Room{}})

	ended, err := cm.Create(types.CustomerInfo{Phone: "5551234567"})
	if err != nil {
		t.Fatal(err)
	}
	live, err := cm.Create(types.CustomerInfo{Phone: "5559876543"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, cm, ended.ID, types.StateConnected)
	waitFor(t, cm, live.ID, types.StateConnected)

	if _, err := cm.End(t.Context(), ended.ID); err != nil {
		t.Fatal(err)
	}

	clk.Advance(30 * time.Second)
	if n := cm.Prune(); n != 0 {
		t.Fatalf("pruned %d calls inside the retention window", n)
	}

	clk.Advance(31 * time.Second)
	if n := cm.Prune(); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := cm.Get(ended.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("ended call still listed: %v", err)
	}
	if _, err := cm.Get(live.ID); err != nil {
		t.Errorf("live call was pruned: %v", err)
	}
}

func TestCallManager_ListOrderedByCreation(t *testing.T) {
	t.Parallel()

	cm, clk := newTestManager(t, &mock.Transport{ConnectResult: &mock.Room{}})
	for range 3 {
		if _, err := cm.Create(types.CustomerInfo{Phone: "5551234567"}); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Second)
	}

	list := cm.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].ID, want)
		}
	}
}

func TestCallManager_ProfileAppliesToNewCalls(t *testing.T) {
	t.Parallel()

	cm, _ := newTestManager(t, &mock.Transport{ConnectResult: &mock.Room{}})
	first, _ := cm.Create(types.CustomerInfo{Phone: "5551234567"})

	p := types.DefaultCallProfile()
	p.Instructions = "Answer for the florist."
	cm.SetProfile(p)
	second, _ := cm.Create(types.CustomerInfo{Phone: "5551234567"})

	get := func(id string) types.CallProfile {
		cm.mu.Lock()
		defer cm.mu.Unlock()
		return cm.calls[id].machine.Profile()
	}
	if get(first.ID).Instructions == p.Instructions {
		t.Error("existing call picked up the new profile")
	}
	if get(second.ID).Instructions != p.Instructions {
		t.Error("new call did not get the new profile")
	}
}

func TestCallManager_ShutdownEndsCallsAndRefusesNew(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	tr := &mock.Transport{ConnectResult: &mock.Room{}, Gate: gate}
	cm, _ := newTestManager(t, tr)

	v, err := cm.Create(types.CustomerInfo{Phone: "5551234567"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, cm, v.ID, types.StateConnecting)

	done := make(chan error, 1)
	go func() { done <- cm.Shutdown(context.Background()) }()

	// Shutdown ends the call right away; the blocked connect finishes later
	// and is discarded.
	waitFor(t, cm, v.ID, types.StateEnded)
	close(gate)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not wait for the start to return")
	}

	if _, err := cm.Create(types.CustomerInfo{Phone: "5551234567"}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Create after Shutdown = %v", err)
	}
}

func TestCallManager_ShutdownDuringCreateLeavesNoCall(t *testing.T) {
	t.Parallel()

	gw, err := credential.New(credential.Config{
		APIKey:    "key",
		APISecret: "secret-secret-secret",
		URL:       "wss://voice.test",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr := &mock.Transport{ConnectResult: &mock.Room{}}
	var cm *CallManager
	cm = NewCallManager(CallManagerConfig{
		Credentials: gw,
		Transport:   tr,
		Registrar:   registrar.New(),
		// Shutdown lands after Create validated its input but before the
		// call is registered.
		NewID: func() string {
			if err := cm.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown: %v", err)
			}
			return "late"
		},
	})

	if _, err := cm.Create(types.CustomerInfo{Phone: "5551234567"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Create = %v, want ErrShuttingDown", err)
	}
	if got := cm.List(); len(got) != 0 {
		t.Errorf("List = %+v, want empty", got)
	}
	if _, err := cm.Get("late"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if n := len(tr.Calls()); n != 0 {
		t.Errorf("connect calls = %d, want 0", n)
	}
}

func TestCallManager_RestartAfterShutdownRefused(t *testing.T) {
	t.Parallel()

	cm, _ := newTestManager(t, &mock.Transport{ConnectResult: &mock.Room{}})
	v, err := cm.Create(types.CustomerInfo{Phone: "5551234567"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, cm, v.ID, types.StateConnected)

	if err := cm.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Start(v.ID); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after Shutdown = %v, want ErrShuttingDown", err)
	}
	if got, _ := cm.Get(v.ID); got.State != types.StateEnded {
		t.Errorf("state = %s, want ended", got.State)
	}
}
