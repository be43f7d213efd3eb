package core

import (
	"context"
	"testing"

	"github.com/vovakirdan/haven/internal/store/sqlite"
)

func benchmarkChatroomFanOut(b *testing.B, viewers int) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		b.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	sender := NewClient("sender", st, nil)
	defer sender.Close()
	sender.Gate.Handle(AuthEvent{Identity: identity("alice", "Alice")})

	id, err := ResolveChatroomID("alice", "bob")
	if err != nil {
		b.Fatal(err)
	}

	subs := make([]*Subscription[[]Message], 0, viewers)
	for range viewers {
		sub, err := sender.Messages.Open(id)
		if err != nil {
			b.Fatal(err)
		}
		subs = append(subs, sub)
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := sender.Messages.Append(ctx, id, "payload"); err != nil {
			b.Fatal(err)
		}
		for _, sub := range subs {
			for u := range sub.Updates() {
				if len(u.Snapshot) > i {
					break
				}
			}
		}
	}
}

func BenchmarkChatroomFanOut_1(b *testing.B)  { benchmarkChatroomFanOut(b, 1) }
func BenchmarkChatroomFanOut_10(b *testing.B) { benchmarkChatroomFanOut(b, 10) }
func BenchmarkChatroomFanOut_50(b *testing.B) { benchmarkChatroomFanOut(b, 50) }
