package kafkax

import (
	"context"
	"net"
	"testing"
)

func TestReadyCheck_NoBrokersConfigured(t *testing.T) {
	if err := ReadyCheck("")(context.Background()); err == nil {
		t.Fatal("expected error when no brokers are configured")
	}
}

func TestReadyCheck_UnreachableBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if err := ReadyCheck(addr)(context.Background()); err == nil {
		t.Fatal("expected error for unreachable broker")
	}
}

func TestReadyCheck_ReachableBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	if err := ReadyCheck(ln.Addr().String())(context.Background()); err != nil {
		t.Fatalf("expected reachable broker to pass, got %v", err)
	}
}
