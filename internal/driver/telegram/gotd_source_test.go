package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/tg"

	"rollcall/pkg/rollcall"
)

type gotdTestClient struct {
	run func(ctx context.Context, fn func(context.Context) error) error
}

func (c gotdTestClient) Run(ctx context.Context, fn func(context.Context) error) error {
	return c.run(ctx, fn)
}

func TestGotdSourceConsume(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(4)
	alice := newTGUser(42, "alice", "Alice", "", false)
	if err := stream.Handle(context.Background(), &tg.Updates{
		Users: []tg.UserClass{alice},
		Updates: []tg.UpdateClass{
			&tg.UpdateNewMessage{Message: newTGMessage(1, &tg.PeerUser{UserID: 42}, &tg.PeerUser{UserID: 42}, "/group-list")},
			&tg.UpdateNewMessage{Message: newTGMessage(2, &tg.PeerUser{UserID: 42}, &tg.PeerUser{UserID: 42}, "")},
			&tg.UpdateNewMessage{Message: newTGMessage(3, &tg.PeerUser{UserID: 42}, &tg.PeerUser{UserID: 42}, "@oncall")},
		},
	}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	peers := NewPeerCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Update
	source, err := NewGotdSource(gotdTestClient{run: func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	}}, stream, peers)
	if err != nil {
		t.Fatalf("NewGotdSource() error = %v", err)
	}

	err = source.Consume(ctx, func(_ context.Context, update Update) error {
		got = append(got, update)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(got) != 2 || got[0].Message.Text != "/group-list" || got[1].Message.Text != "@oncall" {
		t.Fatalf("consumed = %+v", got)
	}
	if _, err := peers.Resolve(rollcall.Conversation{ID: got[0].Chat.ID, Type: got[0].Chat.Type}); err != nil {
		t.Fatalf("peer for sender not remembered: %v", err)
	}
}

func TestGotdSourceFailures(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(1)
	if err := stream.Handle(context.Background(), &tg.UpdateShortMessage{ID: 1, UserID: 42, Message: "hi", Date: 1}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	source, err := NewGotdSource(gotdTestClient{run: func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	}}, stream, nil)
	if err != nil {
		t.Fatalf("NewGotdSource() error = %v", err)
	}
	err = source.Consume(context.Background(), func(context.Context, Update) error {
		return errors.New("handler failed")
	})
	if err == nil || !strings.Contains(err.Error(), "consume gotd update tg:42:1") {
		t.Fatalf("Consume() error = %v, want wrapped handler failure", err)
	}

	authFailure := errors.New("bot login failed")
	failing, err := NewGotdSource(gotdTestClient{run: func(context.Context, func(context.Context) error) error {
		return authFailure
	}}, NewGotdUpdateChannel(1), nil)
	if err != nil {
		t.Fatalf("NewGotdSource() error = %v", err)
	}
	if err := failing.Consume(context.Background(), func(context.Context, Update) error { return nil }); !errors.Is(err, authFailure) {
		t.Fatalf("Consume() error = %v, want %v", err, authFailure)
	}

	if _, err := NewGotdSource(nil, stream, nil); err == nil {
		t.Fatal("NewGotdSource(nil client) error = nil, want error")
	}
}

func TestGotdUpdateChannelHandleHonorsContext(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(1)
	message := &tg.UpdateShortMessage{ID: 1, UserID: 42, Message: "hi", Date: 1}
	if err := stream.Handle(context.Background(), message); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := stream.Handle(ctx, message); !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle() on full buffer error = %v, want context.Canceled", err)
	}
}
