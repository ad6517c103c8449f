package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	floodbus "github.com/floodbus/go-floodbus"
	"github.com/floodbus/go-floodbus/metrics"
)

func newTestBus(t *testing.T, id string) *floodbus.Bus {
	t.Helper()

	bus, err := floodbus.New(id, floodbus.WithListenAddr(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestShellAddAndRemove(t *testing.T) {
	bus := newTestBus(t, "me")
	var out bytes.Buffer
	sh := newShell(bus, &out)

	require.NoError(t, sh.exec([]string{"add", "a", "4001"}))
	require.NoError(t, sh.exec([]string{"add", "b", "10.0.0.2", "4002"}))
	require.NoError(t, sh.exec([]string{"add", "c", "/ip4/10.0.0.3/tcp/4003"}))
	require.Equal(t, []string{"a", "b", "c"}, bus.Connections())

	require.NoError(t, sh.exec([]string{"remove", "b"}))
	require.False(t, bus.HasConnection("b"))

	require.Error(t, sh.exec([]string{"add", "d", "notaport"}))
	require.Error(t, sh.exec([]string{"add"}))
	require.Error(t, sh.exec([]string{"bogus"}))
	require.Equal(t, errQuit, sh.exec([]string{"quit"}))
}

func TestShellSend(t *testing.T) {
	me := newTestBus(t, "me")
	other := newTestBus(t, "other")

	got := make(chan TestMessage, 2)
	other.Subscribe(floodbus.NewHandler(TestMessageType, func(m TestMessage) {
		got <- m
	}))

	var out bytes.Buffer
	sh := newShell(me, &out)
	require.NoError(t, sh.exec([]string{"add", "other", other.Addr().String()}))

	require.NoError(t, sh.exec([]string{"send", "other", "hello", "there"}))
	select {
	case m := <-got:
		require.Equal(t, "hello there", m.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, sh.exec([]string{"send", "hi", "all"}))
	select {
	case m := <-got:
		require.Equal(t, "hi all", m.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestShellStats(t *testing.T) {
	require.NoError(t, metrics.Register())
	defer metrics.Unregister()

	me := newTestBus(t, "me")
	other := newTestBus(t, "other")

	got := make(chan TestMessage, 2)
	other.Subscribe(floodbus.NewHandler(TestMessageType, func(m TestMessage) {
		got <- m
	}))

	var out bytes.Buffer
	sh := newShell(me, &out)
	require.NoError(t, sh.exec([]string{"add", "other", other.Addr().String()}))
	require.NoError(t, sh.exec([]string{"send", "one"}))
	require.NoError(t, sh.exec([]string{"send", "two"}))
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	out.Reset()
	require.NoError(t, sh.stats())

	lines := make(map[string]string)
	for _, l := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		f := strings.Fields(l)
		require.Len(t, f, 2)
		lines[f[0]] = f[1]
	}
	require.Equal(t, "2", lines["published"])
	require.Equal(t, "0", lines["dropped"])
	require.Contains(t, lines, "delivered")
}

func TestShellSendToReceiverWithoutText(t *testing.T) {
	me := newTestBus(t, "me")
	other := newTestBus(t, "other")

	got := make(chan TestMessage, 1)
	other.Subscribe(floodbus.NewHandler(TestMessageType, func(m TestMessage) {
		got <- m
	}))

	var out bytes.Buffer
	sh := newShell(me, &out)
	require.NoError(t, sh.exec([]string{"add", "other", other.Addr().String()}))
	require.NoError(t, sh.exec([]string{"send", "other"}))

	select {
	case m := <-got:
		require.Equal(t, "", m.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestShellHelpForMessageType(t *testing.T) {
	bus := newTestBus(t, "me")
	var out bytes.Buffer
	sh := newShell(bus, &out)

	require.NoError(t, sh.exec([]string{"help", "ContainerLocationUpdate"}))
	require.Equal(t, "message type ContainerLocationUpdate is not implemented in this tool\n", out.String())

	out.Reset()
	require.NoError(t, sh.exec([]string{"help", TestMessageType}))
	require.Contains(t, out.String(), "send <receiver> <text>")
}
