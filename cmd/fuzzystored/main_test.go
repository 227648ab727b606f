package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/fuzzystore/internal/fuzzy/config"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
	"github.com/haukened/fuzzystore/internal/fuzzy/gateways/wire"
)

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

// startApp builds and runs the application against the current env,
// waits until the listen socket answers, and returns a stop function.
func startApp(t *testing.T) (addr string, stop func()) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
	}()

	// wait for startup
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", cfg.Listen)
		if err == nil {
			require.NoError(t, conn.Close())
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server failed to start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return cfg.Listen, func() {
		cancel()
		select {
		case err := <-appErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("application did not stop")
		}
	}
}

// roundTrip opens one connection, sends one command, and returns the reply.
func roundTrip(t *testing.T, addr string, cmdType domain.CommandType, blockSize uint32, pipe string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	frame := wire.EncodeCommand(domain.Command{
		Type: cmdType,
		Hash: domain.NewFuzzyHash([]byte(pipe), blockSize),
	})
	_, err = conn.Write(frame)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	port := freePort(t)
	t.Setenv("FUZZY_LISTEN", fmt.Sprintf("127.0.0.1:%d", port))
	t.Setenv("FUZZY_LOG_LEVEL", "error")
	t.Setenv("FUZZY_ENV", "dev")

	addr, stop := startApp(t)
	defer stop()

	pipe := "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz01"

	// check on an empty store misses
	assert.Equal(t, "ERR\r\n", roundTrip(t, addr, domain.CmdCheck, 128, "zzzzzzzz"))

	// write then check
	assert.Equal(t, "OK\r\n", roundTrip(t, addr, domain.CmdWrite, 128, pipe))
	assert.Equal(t, "OK\r\n", roundTrip(t, addr, domain.CmdCheck, 128, pipe))

	// second write of the same hash is rejected
	assert.Equal(t, "ERR\r\n", roundTrip(t, addr, domain.CmdWrite, 128, pipe))

	// delete then check misses again
	assert.Equal(t, "OK\r\n", roundTrip(t, addr, domain.CmdDelete, 128, pipe))
	assert.Equal(t, "ERR\r\n", roundTrip(t, addr, domain.CmdCheck, 128, pipe))

	// unknown command byte
	assert.Equal(t, "ERR\r\n", roundTrip(t, addr, domain.CommandType(0xFF), 0, ""))
}

func TestApplication_ShortFrameIgnored(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	port := freePort(t)
	t.Setenv("FUZZY_LISTEN", fmt.Sprintf("127.0.0.1:%d", port))
	t.Setenv("FUZZY_LOG_LEVEL", "error")
	t.Setenv("FUZZY_ENV", "dev")

	addr, stop := startApp(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// the store must still answer normally afterwards
	assert.Equal(t, "ERR\r\n", roundTrip(t, addr, domain.CmdCheck, 1, "anything"))
}

func TestBuildApplication_InvalidStateFile(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.StateFile = "/nonexistent/dir/state.db"

	_, err = buildApplication(cfg)
	assert.Error(t, err)
}
