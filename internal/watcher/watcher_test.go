package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/vault"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (n *recordingNotifier) Notify(ev models.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) snapshot() []models.ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ChangeEvent(nil), n.events...)
}

func (n *recordingNotifier) waitFor(t *testing.T, cond func([]models.ChangeEvent) bool) []models.ChangeEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		evs := n.snapshot()
		if cond(evs) {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("events not observed in time: %v", n.snapshot())
	return nil
}

func startWatcher(t *testing.T, dir string, n Notifier) *Watcher {
	t.Helper()
	w := New([]string{dir}, []string{".txt"}, true, n, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_EmitsUpsertOnWrite(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}
	startWatcher(t, dir, n)

	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	evs := n.waitFor(t, func(evs []models.ChangeEvent) bool { return len(evs) >= 1 })
	if evs[0].Type != models.EventUpsert {
		t.Errorf("event type = %s", evs[0].Type)
	}
	if evs[0].DocumentID != vault.DocumentID(path) {
		t.Errorf("document ID = %s", evs[0].DocumentID)
	}
}

func TestWatcher_DebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}
	startWatcher(t, dir, n)

	path := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("rev"), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	n.waitFor(t, func(evs []models.ChangeEvent) bool { return len(evs) >= 1 })
	// Let any stragglers flush, then check the burst collapsed.
	time.Sleep(200 * time.Millisecond)
	if evs := n.snapshot(); len(evs) > 2 {
		t.Errorf("burst produced %d events, expected it to collapse", len(evs))
	}
}

func TestWatcher_EmitsDeleteOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	if err := os.WriteFile(path, []byte("bye"), 0600); err != nil {
		t.Fatal(err)
	}

	n := &recordingNotifier{}
	startWatcher(t, dir, n)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	evs := n.waitFor(t, func(evs []models.ChangeEvent) bool {
		for _, ev := range evs {
			if ev.Type == models.EventDelete {
				return true
			}
		}
		return false
	})
	found := false
	for _, ev := range evs {
		if ev.Type == models.EventDelete && ev.DocumentID == vault.DocumentID(path) {
			found = true
		}
	}
	if !found {
		t.Errorf("no delete event for %s in %v", path, evs)
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}
	startWatcher(t, dir, n)

	if err := os.WriteFile(filepath.Join(dir, "skip.log"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if evs := n.snapshot(); len(evs) != 0 {
		t.Errorf("unexpected events for filtered extension: %v", evs)
	}
}

func TestWatcher_StopWhileEventsInFlight(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}
	w := New([]string{dir}, []string{".txt"}, true, n, WithDebounce(time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Keep events flowing while Stop tears the watcher down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			path := filepath.Join(dir, "churn.txt")
			_ = os.WriteFile(path, []byte("rev"), 0600)
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	w.Stop()
	// A second Stop is a no-op.
	w.Stop()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	// Restarting after Stop works on a fresh fsnotify instance.
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	w.Stop()
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w := New([]string{"/nonexistent/watch/root"}, nil, true, &recordingNotifier{})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Error("expected error for missing root")
	}
}

func TestMatchExtension(t *testing.T) {
	w := New(nil, []string{".txt", "md"}, true, &recordingNotifier{})
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b.txt", true},
		{"/a/b.TXT", true},
		{"/a/b.md", true},
		{"/a/b.pdf", false},
		{"/a/b", false},
	}
	for _, tt := range tests {
		if got := w.matchExtension(tt.path); got != tt.want {
			t.Errorf("matchExtension(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	all := New(nil, nil, true, &recordingNotifier{})
	if !all.matchExtension("/a/b.anything") {
		t.Error("empty extension list should accept everything")
	}
}
