package auth

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNTLMProvider(t *testing.T) *NTLMProvider {
	t.Helper()
	p, err := NewNTLMProvider(Credentials{Username: `CORP\alice`, Password: "pass"}, WithWorkstation("WS01"))
	require.NoError(t, err)
	return p
}

func TestNewNTLMProvider_RequiresCredentials(t *testing.T) {
	_, err := NewNTLMProvider(Credentials{Username: "alice"})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestNTLMProvider_NegotiateMessage(t *testing.T) {
	p := newTestNTLMProvider(t)
	ctx := context.Background()

	cred, err := p.AcquireCredentials(ctx, PackageNegotiate, Outbound)
	require.NoError(t, err)
	defer cred.Release()

	info, err := p.QueryPackageInfo(PackageNegotiate)
	require.NoError(t, err)

	res, err := p.InitializeContext(ctx, InitializeInput{
		Credential:   cred,
		TargetName:   "HTTP/web.example.com",
		MaxTokenSize: info.MaxTokenSize,
	})
	require.NoError(t, err)
	defer res.Context.Release()

	assert.False(t, res.Complete)
	assert.True(t, bytes.HasPrefix(res.Token, []byte("NTLMSSP\x00")))
	assert.Equal(t, MessageNTLMNegotiate, DetectMessageType(res.Token))
}

func TestNTLMProvider_RejectsBadChallenge(t *testing.T) {
	p := newTestNTLMProvider(t)
	ctx := context.Background()

	res, err := p.InitializeContext(ctx, InitializeInput{Credential: ntlmCredential{}})
	require.NoError(t, err)

	_, err = p.InitializeContext(ctx, InitializeInput{
		Credential: ntlmCredential{},
		Context:    res.Context,
	})
	assert.ErrorContains(t, err, "missing challenge")

	_, err = p.InitializeContext(ctx, InitializeInput{
		Credential: ntlmCredential{},
		Context:    res.Context,
		PeerToken:  []byte("definitely not a challenge"),
	})
	assert.ErrorContains(t, err, "process challenge")

	require.NoError(t, res.Context.Release())
	_, err = p.InitializeContext(ctx, InitializeInput{
		Credential: ntlmCredential{},
		Context:    res.Context,
		PeerToken:  []byte("x"),
	})
	assert.ErrorContains(t, err, "already released")
}

func TestNTLMProvider_InboundUnsupported(t *testing.T) {
	p := newTestNTLMProvider(t)
	_, err := p.AcquireCredentials(context.Background(), PackageNegotiate, Inbound)
	assert.Error(t, err)

	_, err = p.AcquireCredentials(context.Background(), PackageKerberos, Outbound)
	assert.Error(t, err)

	_, err = p.QueryPackageInfo("Digest")
	assert.Error(t, err)
}
