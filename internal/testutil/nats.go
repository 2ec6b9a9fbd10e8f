// Package testutil holds in-process infrastructure for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// StartEmbeddedNATS starts an in-process NATS server on a random port and
// returns it with a connected client. Both are shut down by t.Cleanup.
func StartEmbeddedNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	ns := StartNATSServer(t)
	nc := ConnectNATS(t, ns)
	return ns, nc
}

// StartNATSServer starts an in-process NATS server without a client.
func StartNATSServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:  "127.0.0.1",
		Port:  -1, // Use random available port
		NoLog: true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create embedded NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("Embedded NATS server not ready within timeout")
	}

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

// ConnectNATS opens an additional client against ns, closed by t.Cleanup.
func ConnectNATS(t *testing.T, ns *server.Server) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(0),
	)
	if err != nil {
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}
