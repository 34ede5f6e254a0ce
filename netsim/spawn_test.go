package netsim

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnCollectsResultsInLauncherOrder(t *testing.T) {
	fabric := newTestFabric(t)

	names := []string{"n1", "n2", "n3", "n4"}
	launchers := make([]Launcher[string], 0, len(names))
	for _, name := range names {
		launchers = append(launchers, Launcher[string]{
			Name: name,
			Run: func(ctx context.Context, host *Host) (string, error) {
				return host.Name() + "@" + host.Addr().String(), nil
			},
		})
	}

	results, err := Spawn(context.Background(), fabric, launchers...).Wait()
	require.NoError(t, err)
	require.Len(t, results, len(names))

	for i, name := range names {
		assert.Contains(t, results[i], name+"@10.9.0.")
	}
}

func TestSpawnedMachinesCanReachEachOther(t *testing.T) {
	fabric := newTestFabric(t)
	serverAddr := make(chan netip.Addr, 1)

	server := Launcher[string]{Name: "server", Run: func(ctx context.Context, host *Host) (string, error) {
		ln, err := host.Listen(7000)
		if err != nil {
			return "", err
		}
		defer ln.Close()
		serverAddr <- host.Addr()

		conn, err := ln.Accept()
		if err != nil {
			return "", err
		}
		defer conn.Close()
		buf := make([]byte, 2)
		if _, err := conn.Read(buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}}

	client := Launcher[string]{Name: "client", Run: func(ctx context.Context, host *Host) (string, error) {
		addr := <-serverAddr
		conn, err := host.Dial(ctx, netip.AddrPortFrom(addr, 7000))
		if err != nil {
			return "", err
		}
		defer conn.Close()
		_, err = conn.Write([]byte("hi"))
		return "", err
	}}

	results, err := Spawn(context.Background(), fabric, server, client).Wait()
	require.NoError(t, err)
	assert.Equal(t, "hi", results[0])
}

func TestSpawnRecoversPanics(t *testing.T) {
	fabric := newTestFabric(t)

	results, err := Spawn(context.Background(), fabric, Launcher[int]{
		Name: "boom",
		Run: func(ctx context.Context, host *Host) (int, error) {
			panic("kaboom")
		},
	}).Wait()

	assert.Nil(t, results)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMachinePanic))
	assert.Contains(t, err.Error(), "kaboom")

	_, stillAttached := fabric.Host("boom")
	assert.False(t, stillAttached)
}

func TestSpawnFailureCancelsOthers(t *testing.T) {
	fabric := newTestFabric(t)
	failure := errors.New("node failed")

	results, err := Spawn(context.Background(), fabric,
		Launcher[int]{Name: "fails", Run: func(ctx context.Context, host *Host) (int, error) {
			return 0, failure
		}},
		Launcher[int]{Name: "waits", Run: func(ctx context.Context, host *Host) (int, error) {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(5 * time.Second):
				return 1, nil
			}
		}},
	).Wait()

	assert.Nil(t, results)
	assert.True(t, errors.Is(err, failure))
}

func TestSpawnAddressExhaustion(t *testing.T) {
	fabric, err := NewFabric(FabricConfig{Subnet: "10.0.0.0/30"})
	require.NoError(t, err)
	defer fabric.Close()

	// only one address is usable; whichever machine attaches second fails
	// and cancels the one that got the address
	waitForCancel := func(ctx context.Context, host *Host) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	_, err = Spawn(context.Background(), fabric,
		Launcher[int]{Name: "a", Run: waitForCancel},
		Launcher[int]{Name: "b", Run: waitForCancel},
	).Wait()
	assert.True(t, errors.Is(err, ErrNoAvailableAddress))
}

func TestSpawnDropsMachinesWithoutHost(t *testing.T) {
	// one usable address for three machines
	fabric, err := NewFabric(FabricConfig{Subnet: "10.9.0.0/30"})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })

	var hooked []error
	var mu sync.Mutex
	launchers := make([]Launcher[int], 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		launchers = append(launchers, Launcher[int]{
			Name: name,
			Run: func(ctx context.Context, host *Host) (int, error) {
				return 1, nil
			},
			AttachFailed: func(err error) error {
				mu.Lock()
				hooked = append(hooked, err)
				mu.Unlock()
				return nil
			},
		})
	}

	run := Spawn(context.Background(), fabric, launchers...)
	results, err := run.Wait()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0]+results[1]+results[2])

	dropped := run.Dropped()
	assert.Len(t, dropped, 2)
	require.Len(t, hooked, 2)
	for _, err := range hooked {
		assert.ErrorIs(t, err, ErrNoAvailableAddress)
	}
}

func TestSpawnAttachFailedCanFailRun(t *testing.T) {
	fabric, err := NewFabric(FabricConfig{Subnet: "10.9.0.0/30"})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })

	refuse := errors.New("refused to drop")
	launchers := make([]Launcher[int], 0, 2)
	for _, name := range []string{"a", "b"} {
		launchers = append(launchers, Launcher[int]{
			Name: name,
			Run: func(ctx context.Context, host *Host) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
			AttachFailed: func(err error) error { return refuse },
		})
	}

	_, err = Spawn(context.Background(), fabric, launchers...).Wait()
	assert.ErrorIs(t, err, refuse)
}
