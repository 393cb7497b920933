//go:build linux || darwin

package client

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/vchannel"
)

func TestVirtualChannelEcho(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)
	ctx := testCtx(t)

	setup, err := p.SetupVirtualChannel(ctx, "echo", int64(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, ChannelAcknowledged, setup.State())

	vc, err := setup.WaitAcknowledged(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo", vc.Name)
	assert.NotEmpty(t, vc.AuthToken)

	ch, err := vchannel.Connect(ctx, vc.RelayPath, vc.AuthToken, nil)
	require.NoError(t, err)
	defer ch.Close()

	_, err = setup.WaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChannelReady, setup.State())

	msg := "Extension message 1"
	_, err = ch.Write([]byte(msg))
	require.NoError(t, err)
	got := make([]byte, len(msg))
	_, err = io.ReadFull(ch, got)
	require.NoError(t, err)
	assert.Equal(t, msg, string(got))

	name, err := p.CloseVirtualChannel(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", name)
	assert.Empty(t, sim.Channels())
}

func TestChannelClosedBeforeReady(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)
	ctx := testCtx(t)

	setup := p.SetupVirtualChannelAsync("echo", int64(os.Getpid()))
	_, err := setup.WaitAcknowledged(ctx)
	require.NoError(t, err)

	require.NoError(t, sim.CloseChannel("echo"))

	_, err = setup.WaitReady(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, ChannelFailed, setup.State())
}
