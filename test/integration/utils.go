package integration

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/proto"
	"github.com/mbocsi/gonoti/server"
)

type testServer struct {
	*server.NotiServer
	tcpAddr string
	wsAddr  string
}

// startServer runs a NotiServer with a TCP and a WebSocket transport on
// random local ports until the test ends.
func startServer(t *testing.T, auth server.Authenticator) *testServer {
	t.Helper()
	srv := server.NewNotiServerWithLogging(server.NotiServerOptions{Authenticator: auth}, server.SuppressedLogConfig())

	tcp := server.NewTCPTransport("127.0.0.1:0")
	if err := tcp.Listen(); err != nil {
		t.Fatalf("Failed to listen on TCP: %v", err)
	}
	ws := server.NewWSTransport("127.0.0.1:0")
	if err := ws.Listen(); err != nil {
		t.Fatalf("Failed to listen on WebSocket: %v", err)
	}
	srv.RegisterTransport(tcp)
	srv.RegisterTransport(ws)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			t.Errorf("Server failed: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testServer{
		NotiServer: srv,
		tcpAddr:    tcp.ListenAddr().String(),
		wsAddr:     ws.ListenAddr().String(),
	}
}

func testLogin(secret string) proto.Login {
	return proto.NewLogin(proto.LoginAccount{
		ProductKey: "pk-1",
		AuthID:     "auth-1",
		AuthSecret: secret,
		Subkey:     "sub-1",
		Events:     []proto.EventType{proto.EventStatusKV, proto.EventDeviceOnline},
	})
}

// newQuietClient builds a client for addr with logging suppressed. The client
// is destroyed when the test ends.
func newQuietClient(t *testing.T, addr string, transport client.Transport, opts ...client.Option) *client.Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("Bad address %q: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := client.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.DialTimeout = 2 * time.Second
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.Login = testLogin("secret-1")

	opts = append([]client.Option{client.WithTransport(transport)}, opts...)
	c, err := client.NewClientWithLogging(cfg, client.SuppressedLogConfig(), opts...)
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Destroy(ctx)
	})
	return c
}

// nextEvent reads frames until one with cmd arrives.
func nextEvent(t *testing.T, c *client.Client, cmd string) proto.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		frame, err := c.ReceiveContext(ctx)
		if err != nil {
			t.Fatalf("No %s frame received: %v", cmd, err)
		}
		ev, err := proto.ParseEvent(frame)
		if err != nil {
			t.Fatalf("Received unparseable frame %q: %v", frame, err)
		}
		if ev.Cmd == cmd {
			return ev
		}
	}
}
