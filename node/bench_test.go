package node

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"netmodule/message"
	"netmodule/transport"
)

// ---- Setup 公共函数 ----

func setupPair(b *testing.B) (send, recv *transport.Conn) {
	conn := transport.Options{
		HeartbeatInterval: transport.NoHeartbeat,
		HeartbeatTimeout:  transport.NoHeartbeat,
		ReceiveCapacity:   64 * 1024,
		Logger:            zap.NewNop(),
	}
	server, accepted := startNode(b, Options{Conn: conn, Logger: zap.NewNop()})
	client := New(Options{Conn: conn, Logger: zap.NewNop()})
	b.Cleanup(func() { client.Shutdown(3 * time.Second) })

	c, err := client.Dial(context.Background(), "tcp", server.Peer().Addr)
	if err != nil {
		b.Fatal(err)
	}
	return c, acceptWithin(b, accepted)
}

// drain receives until n messages arrived.
func drain(b *testing.B, c *transport.Conn, n int) {
	got := 0
	for got < n {
		all, err := c.ReceiveAll()
		if err != nil {
			b.Fatal(err)
		}
		for _, m := range all {
			if !message.IsNone(m) {
				got++
			}
		}
	}
}

// ---- Benchmark ----

// 场景1: 单 goroutine 串行发送，接收端同步取回
func BenchmarkSerialSend(b *testing.B) {
	send, recv := setupPair(b)
	msg := message.NewPair(message.NewString("Arith.Add"), message.NewList(message.NewInt32(1), message.NewInt32(2)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := send.Send(context.Background(), msg); err != nil {
			b.Fatal(err)
		}
		drain(b, recv, 1)
	}
}

// 场景2: 多 goroutine 并发发送（共享同一把写锁）
func BenchmarkConcurrentSend(b *testing.B) {
	send, recv := setupPair(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		msg := message.NewInt32(1)
		for pb.Next() {
			if err := send.Send(context.Background(), msg); err != nil {
				b.Error(err)
				return
			}
		}
	})
	drain(b, recv, b.N)
}
