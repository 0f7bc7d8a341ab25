package router

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tabdaemon/tabd/internal/apierr"
	"github.com/tabdaemon/tabd/internal/ipc"
)

type fakeSender struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      []ipc.ExtensionCommand
	onSend    func(sessionID string, cmd ipc.ExtensionCommand)
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: make(map[string]bool)}
}

func (f *fakeSender) SendCommand(sessionID string, cmd ipc.ExtensionCommand) bool {
	f.mu.Lock()
	ok := f.connected[sessionID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(sessionID, cmd)
	}
	return true
}

func (f *fakeSender) IsConnected(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[sessionID]
}

func (f *fakeSender) setConnected(sessionID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[sessionID] = v
}

type fakeLauncher struct {
	calls int32
	err   error
}

func (f *fakeLauncher) EnsureLaunched(sessionID string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestSubmitRejectsUnknownCommandType(t *testing.T) {
	r := New(newFakeSender(), &fakeLauncher{}, time.Second)
	resp := r.Submit(ipc.Command{ID: "1", SessionID: "s1", Type: "bogus"})
	if resp.Success || resp.Error != "Invalid command structure" {
		t.Fatalf("want structural failure, got %+v", resp)
	}
}

func TestSubmitFailsWithoutExtensionForNonNavigationCommand(t *testing.T) {
	r := New(newFakeSender(), &fakeLauncher{}, time.Second)
	resp := r.Submit(ipc.Command{ID: "1", SessionID: "s1", Type: "click"})
	if resp.Success {
		t.Fatalf("want failure, got %+v", resp)
	}
}

func TestSubmitRoundTripsThroughExtensionResponse(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		go r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true, Data: json.RawMessage(`{"ok":true}`)})
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "click"})
	if !resp.Success || resp.ID != "c1" {
		t.Fatalf("want success round-trip, got %+v", resp)
	}
}

func TestSubmitTimesOutWithoutResponse(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, 20*time.Millisecond)

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "click"})
	if resp.Success || resp.Error != string(apierr.CommandTimeout) {
		t.Fatalf("want COMMAND_TIMEOUT, got %+v", resp)
	}
}

func TestPerSessionCommandsAreSerialized(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	var mu sync.Mutex
	var order []string
	var inFlightCount int32

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		if atomic.AddInt32(&inFlightCount, 1) > 1 {
			t.Errorf("more than one command in flight for session %s", sessionID)
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, cmd.ID)
			mu.Unlock()
			atomic.AddInt32(&inFlightCount, -1)
			r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true})
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			r.Submit(ipc.Command{ID: id, SessionID: "s1", Type: "click"})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected all 5 commands to complete, got %d", len(order))
	}
}

func TestNavigationClassAutoLaunchesAndWaitsForExtension(t *testing.T) {
	sender := newFakeSender()
	launcher := &fakeLauncher{}
	r := New(sender, launcher, time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sender.setConnected("s1", true)
		r.NotifyExtensionConnected("s1")
	}()

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		go r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true})
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "navigate", Params: json.RawMessage(`{"url":"https://example.com"}`)})
	if !resp.Success {
		t.Fatalf("want success after auto-launch, got %+v", resp)
	}
	if atomic.LoadInt32(&launcher.calls) != 1 {
		t.Fatalf("want exactly one launch attempt, got %d", launcher.calls)
	}
}

func TestNavigateTranslatesToOpenOnTheWire(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		if cmd.Type != "open" {
			t.Errorf("want translated type 'open', got %q", cmd.Type)
		}
		go r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true})
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "navigate", Params: json.RawMessage(`{"url":"https://example.com"}`)})
	if !resp.Success {
		t.Fatalf("want success, got %+v", resp)
	}
}

func TestOpenPassesThroughUnchanged(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		if cmd.Type != "open" {
			t.Errorf("want type 'open', got %q", cmd.Type)
		}
		go r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true})
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "open", Params: json.RawMessage(`{"url":"https://example.com"}`)})
	if !resp.Success {
		t.Fatalf("want success, got %+v", resp)
	}
}

func TestTabCommandsTranslateToTabWithAction(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		if cmd.Type != "tab" {
			t.Errorf("want translated type 'tab', got %q", cmd.Type)
		}
		var params map[string]interface{}
		json.Unmarshal(cmd.Params, &params)
		if params["action"] != "new" {
			t.Errorf("want action 'new', got %v", params["action"])
		}
		go r.HandleExtensionResponse(sessionID, ipc.Response{ID: cmd.ID, Success: true})
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "tab_new"})
	if !resp.Success {
		t.Fatalf("want success, got %+v", resp)
	}
}

func TestHandleExtensionDisconnectedFailsInFlight(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	r := New(sender, &fakeLauncher{}, time.Second)

	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {
		go r.HandleExtensionDisconnected(sessionID)
	}

	resp := r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "click"})
	if resp.Success || resp.Error != "extension disconnected" {
		t.Fatalf("want extension-disconnected failure, got %+v", resp)
	}
}

func TestCancelAllFailsEveryPendingCommand(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected("s1", true)
	sender.setConnected("s2", true)
	r := New(sender, &fakeLauncher{}, time.Second)
	sender.onSend = func(sessionID string, cmd ipc.ExtensionCommand) {} // never respond

	results := make(chan ipc.Response, 2)
	go func() { results <- r.Submit(ipc.Command{ID: "c1", SessionID: "s1", Type: "click"}) }()
	go func() { results <- r.Submit(ipc.Command{ID: "c2", SessionID: "s2", Type: "click"}) }()
	time.Sleep(10 * time.Millisecond)

	r.CancelAll()

	for i := 0; i < 2; i++ {
		resp := <-results
		if resp.Success || resp.Error != "daemon is shutting down" {
			t.Fatalf("want shutdown failure after CancelAll, got %+v", resp)
		}
	}
}
