package sshtransport

import (
	"context"
	"testing"

	require "github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestExistingClientDialerReusesClientWithoutClosing(t *testing.T) {
	client := &ssh.Client{}
	d := NewExistingClientDialer(client)

	got, err := d.Dial(context.Background())
	require.NoError(t, err)
	require.Same(t, client, got)

	require.NoError(t, d.Close(client))
}

func TestRealDialerCarriesTargetAndConfig(t *testing.T) {
	cfg := &ssh.ClientConfig{User: "beep"}
	d := NewRealDialer("localhost:8022", cfg)
	require.Equal(t, "localhost:8022", d.Target)
	require.Same(t, cfg, d.Config)
}

func TestRealDialerCloseNilClientIsNoop(t *testing.T) {
	d := NewRealDialer("localhost:8022", &ssh.ClientConfig{})
	require.NoError(t, d.Close(nil))
}
