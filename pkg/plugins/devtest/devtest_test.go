package devtest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"opsbot/pkg/engine"
)

type recorder struct {
	mu      sync.Mutex
	replies []string
}

func (r *recorder) SendReply(_ context.Context, dst engine.Destination, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, dst.ChatID+": "+text)
	return nil
}

func (r *recorder) SendTyping(context.Context, engine.Destination) error {
	return nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

func TestSleepingHandlerDoesNotBlockOtherChats(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := engine.NewRegistry()
	require.NoError(t, registry.Install(New("", 100*time.Millisecond)))
	require.NoError(t, registry.Register("echo", engine.Descriptor{
		Name: "ping",
		Run:  func(inv *engine.Invocation) error { return inv.Reply("pong") },
	}))

	transport := &recorder{}
	results := make(chan engine.Result, 8)
	gate := engine.NewGate(nil, log)
	scheduler := engine.NewScheduler(registry, gate, transport, log, engine.WithFinishHook(func(r engine.Result) {
		results <- r
	}))
	dispatcher := engine.NewDispatcher(registry, gate, scheduler, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	send := func(chatID string, chatName string, text string) {
		_, err := dispatcher.Dispatch(context.Background(), engine.Message{SenderID: "7", ChatID: chatID, ChatName: chatName, Text: text})
		require.NoError(t, err)
	}

	send("dev", "developer", "!test")
	send("general", "general", "!test")
	send("general", "general", "!ping")

	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for commands to finish")
		}
	}

	want := []string{"dev: First handler", "general: pong", "dev: First handler, message 2"}
	if diff := cmp.Diff(want, transport.list()); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}
}
