package cli

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventName(t *testing.T, ch <-chan events.Event) string {
	t.Helper()
	select {
	case e := <-ch:
		return events.Name(e)
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return ""
	}
}

func TestIsUnlocked(t *testing.T) {
	a, _ := newTestApp(t, nil)
	assert.False(t, a.isUnlocked())

	a, _ = newTestApp(t, &fakeOps{})
	assert.True(t, a.isUnlocked())
}

func TestSetMode_ChangesAndLogsOnce(t *testing.T) {
	app, _ := newTestApp(t, nil)
	ch, unsubscribe := app.bus.Subscribe(4)
	defer unsubscribe()

	var buf bytes.Buffer

	old := log.Default().Writer()
	defer log.SetOutput(old)
	log.SetOutput(&buf)

	app.setMode(ModeOnline)
	if app.Mode != ModeOnline {
		t.Fatalf("expected mode to be %q, got %q", ModeOnline, app.Mode)
	}
	if got := buf.String(); got == "" {
		t.Fatalf("expected log output on mode change, got empty")
	}
	assert.Equal(t, "online", eventName(t, ch))

	buf.Reset()

	app.setMode(ModeOnline)
	if app.Mode != ModeOnline {
		t.Fatalf("expected mode to remain %q, got %q", ModeOnline, app.Mode)
	}
	if got := buf.String(); got != "" {
		t.Fatalf("expected no log output when mode doesn't change, got: %q", got)
	}
	assert.Empty(t, ch)

	app.setMode(ModeOffline)
	if app.Mode != ModeOffline {
		t.Fatalf("expected mode to be %q, got %q", ModeOffline, app.Mode)
	}
	if got := buf.String(); got == "" {
		t.Fatalf("expected log output on mode change to offline, got empty")
	}
	assert.Equal(t, "offline", eventName(t, ch))
}

func TestOnlineStatusWatcher(t *testing.T) {
	ops := &fakeOps{}
	app, _ := newTestApp(t, ops)
	api := &fakeAnonymous{pingErr: errors.New("unreachable")}
	app.api = api

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.StartOnlineStatusWatcher(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return app.mode() == ModeOffline }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, ops.calls)
}

func TestPollOnReconnect(t *testing.T) {
	ops := &fakeOps{polled: 2}
	app, _ := newTestApp(t, ops)

	app.pollOnReconnect(context.Background())
	assert.Equal(t, []string{"poll"}, ops.calls)
}

func TestPollOnReconnect_FailurePublishesCrash(t *testing.T) {
	ops := &fakeOps{err: errors.New("invalid certificate")}
	app, _ := newTestApp(t, ops)
	ch, unsubscribe := app.bus.Subscribe(1)
	defer unsubscribe()

	app.pollOnReconnect(context.Background())

	e := <-ch
	crashed, ok := e.(events.EventMonitorCrashed)
	require.True(t, ok, "got %T", e)
	assert.Equal(t, "connection", crashed.Monitor)
}

func TestPollOnReconnect_Locked(t *testing.T) {
	app, _ := newTestApp(t, nil)
	app.pollOnReconnect(context.Background())
}

func TestClose_RunsClosersInReverse(t *testing.T) {
	app, _ := newTestApp(t, nil)
	var order []int
	app.closers = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("ignored") },
	}

	var buf bytes.Buffer
	old := log.Default().Writer()
	defer log.SetOutput(old)
	log.SetOutput(&buf)

	app.Close()
	assert.Equal(t, []int{2, 1}, order)
	assert.Nil(t, app.closers)
	assert.Contains(t, buf.String(), "ignored")
}
