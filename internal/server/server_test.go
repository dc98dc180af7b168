package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/testutil"
	"github.com/xtxerr/mobility/internal/unit"
	"github.com/xtxerr/mobility/internal/wire"
)

func startServer(t *testing.T, fs *testutil.FakeStore, maxInFlight int) *Server {
	t.Helper()

	h := handler.NewHandler(engine.New(fs, engine.DefaultOptions()), handler.Options{})
	srv := New(&Config{
		Handler:      h,
		Listen:       "127.0.0.1:0",
		MaxInFlight:  maxInFlight,
		DrainTimeout: 2 * time.Second,
	})
	require.NoError(t, srv.Listen())

	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	return srv
}

func dial(t *testing.T, srv *Server) (*wire.Conn, net.Conn) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return wire.NewConn(conn, 0), conn
}

func readWithin(t *testing.T, c *wire.Conn, conn net.Conn, d time.Duration) *wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	env, err := c.Read()
	require.NoError(t, err)
	return env
}

func TestServer_RequestResponse(t *testing.T) {
	fs := testutil.NewFakeStore(metric.V(17, 0)).
		Respond(metric.WalkingSpeed, testutil.Raw(1.5, unit.MetersPerSecond, 10, 20))
	srv := startServer(t, fs, 4)
	c, conn := dial(t, srv)

	require.NoError(t, c.Write(wire.NewRequest(1, handler.MethodRequestMetrics, map[string]any{
		"keys": []any{"walkingSpeed"},
	})))
	require.NoError(t, c.Write(wire.NewRequest(2, handler.MethodGetPlatformVersion, nil)))
	require.NoError(t, c.Write(wire.NewRequest(3, "unknownMethod", nil)))

	byID := make(map[uint64]*wire.Envelope)
	for i := 0; i < 3; i++ {
		env := readWithin(t, c, conn, 5*time.Second)
		byID[env.ID] = env
	}

	require.Nil(t, byID[1].Error)
	speed := byID[1].Result.(map[string]any)["walkingSpeed"].([]any)
	assert.Equal(t, map[string]any{"value": 1.5, "startDate": 10.0, "endDate": 20.0}, speed[0])

	assert.Equal(t, "iOS 17.0", byID[2].Result)

	require.NotNil(t, byID[3].Error)
	assert.Equal(t, errors.CodeNotImplemented, byID[3].Error.Code)

	assert.Equal(t, int64(3), srv.Stats().Requests)
}

func TestServer_MalformedEnvelopeKeepsConnection(t *testing.T) {
	srv := startServer(t, testutil.NewFakeStore(metric.V(17, 0)), 4)
	c, conn := dial(t, srv)

	bad, err := structpb.NewStruct(map[string]any{"method": "getPlatformVersion"})
	require.NoError(t, err)
	_, err = protodelim.MarshalTo(conn, bad)
	require.NoError(t, err)

	env := readWithin(t, c, conn, 5*time.Second)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.CodeInvalidArguments, env.Error.Code)

	require.NoError(t, c.Write(wire.NewRequest(5, handler.MethodGetPlatformVersion, nil)))
	env = readWithin(t, c, conn, 5*time.Second)
	assert.Equal(t, uint64(5), env.ID)
	assert.Nil(t, env.Error)
}

func TestServer_BoundsInFlight(t *testing.T) {
	kinds := metric.AllKinds()
	fs := testutil.NewFakeStore(metric.V(17, 0)).Hold(kinds...)
	srv := startServer(t, fs, 2)

	const clients = 4
	conns := make([]*wire.Conn, clients)
	raw := make([]net.Conn, clients)
	for i := range conns {
		conns[i], raw[i] = dial(t, srv)
		require.NoError(t, conns[i].Write(wire.NewRequest(uint64(i), handler.MethodRequestMetrics, map[string]any{
			"keys": []any{kinds[i].Key()},
		})))
	}

	// Two requests start; the others wait on the semaphore.
	testutil.Recv(t, fs.Started(), 5*time.Second)
	testutil.Recv(t, fs.Started(), 5*time.Second)
	select {
	case k := <-fs.Started():
		t.Fatalf("query for %s started beyond the in-flight limit", k)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int64(2), srv.Stats().InFlight)

	for _, k := range kinds {
		fs.Release(k)
	}
	for i := range conns {
		env := readWithin(t, conns[i], raw[i], 5*time.Second)
		assert.Nil(t, env.Error)
	}
	assert.LessOrEqual(t, fs.MaxInFlight(), 2)
}

func TestServer_DisconnectCancelsRequests(t *testing.T) {
	fs := testutil.NewFakeStore(metric.V(17, 0)).Hold(metric.StepLength)
	srv := startServer(t, fs, 4)
	c, conn := dial(t, srv)

	require.NoError(t, c.Write(wire.NewRequest(1, handler.MethodRequestMetrics, map[string]any{
		"keys": []any{"stepLength"},
	})))
	testutil.Recv(t, fs.Started(), 5*time.Second)

	conn.Close()

	// The held query returns through its cancelled context.
	testutil.Recv(t, fs.Completed(), 5*time.Second)
	require.NoError(t, testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return srv.Stats().InFlight == 0 && srv.Stats().Sessions == 0
	}))
}

func TestServer_ShutdownDrains(t *testing.T) {
	fs := testutil.NewFakeStore(metric.V(17, 0)).Delay(metric.WalkingSpeed, 50*time.Millisecond)
	srv := startServer(t, fs, 4)
	c, conn := dial(t, srv)

	require.NoError(t, c.Write(wire.NewRequest(1, handler.MethodRequestMetrics, map[string]any{
		"keys": []any{"walkingSpeed"},
	})))
	testutil.Recv(t, fs.Started(), 5*time.Second)

	go srv.Shutdown()

	env := readWithin(t, c, conn, 5*time.Second)
	assert.Equal(t, uint64(1), env.ID)
	assert.Nil(t, env.Error)

	require.NoError(t, testutil.WithTimeout(5*time.Second, func() error {
		srv.Shutdown()
		return nil
	}))
	_, err := net.Dial("tcp", srv.Addr().String())
	assert.Error(t, err)
}
