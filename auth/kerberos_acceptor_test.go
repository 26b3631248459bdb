package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/iana/etypeID"
	"github.com/go-krb5/krb5/keytab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeytab(t *testing.T) string {
	t.Helper()
	kt := keytab.New()
	require.NoError(t, kt.AddEntry("HTTP/web.example.com", "EXAMPLE.COM", "s3rvice", time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96))
	b, err := kt.Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "http.keytab")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestNewKerberosAcceptor_Config(t *testing.T) {
	_, err := NewKerberosAcceptor(KerberosAcceptorConfig{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = NewKerberosAcceptor(KerberosAcceptorConfig{KeytabPath: filepath.Join(t.TempDir(), "missing.keytab")})
	require.Error(t, err)
	assert.False(t, IsConfigurationError(err))

	a, err := NewKerberosAcceptor(KerberosAcceptorConfig{KeytabPath: writeTestKeytab(t), PrincipalName: "HTTP/web.example.com"})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestKerberosAcceptor_Credentials(t *testing.T) {
	a, err := NewKerberosAcceptor(KerberosAcceptorConfig{KeytabPath: writeTestKeytab(t)})
	require.NoError(t, err)
	ctx := context.Background()

	cred, err := a.AcquireCredentials(ctx, PackageNegotiate, Inbound)
	require.NoError(t, err)
	assert.NoError(t, cred.Release())

	_, err = a.AcquireCredentials(ctx, PackageNegotiate, Outbound)
	assert.Error(t, err)
	_, err = a.AcquireCredentials(ctx, "NTLM", Inbound)
	assert.Error(t, err)

	info, err := a.QueryPackageInfo(PackageKerberos)
	require.NoError(t, err)
	assert.Equal(t, uint32(kerberosMaxToken), info.MaxTokenSize)
	_, err = a.QueryPackageInfo("NTLM")
	assert.Error(t, err)
}

func TestKerberosAcceptor_RejectsBadTokens(t *testing.T) {
	a, err := NewKerberosAcceptor(KerberosAcceptorConfig{KeytabPath: writeTestKeytab(t)})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		in   AcceptInput
	}{
		{"empty", AcceptInput{}},
		{"ntlm", AcceptInput{PeerToken: []byte("NTLMSSP\x00\x01\x00\x00\x00")}},
		{"truncated spnego", AcceptInput{PeerToken: []byte{0x60, 0x82, 0x01, 0x00}}},
		{"too large", AcceptInput{PeerToken: make([]byte, 64), MaxTokenSize: 32}},
		{"continuation", AcceptInput{PeerToken: []byte{0xa1, 0x00}, Context: &krb5ServerContext{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.AcceptContext(ctx, tt.in)
			require.Error(t, err)
			assert.False(t, res.Complete)
			assert.Nil(t, res.Context)
		})
	}
}

func TestKerberosAcceptor_PeerInfo(t *testing.T) {
	a := newKerberosAcceptor(keytab.New(), "")

	creds := credentials.New("alice", "EXAMPLE.COM")
	creds.SetADCredentials(credentials.ADCredentials{
		EffectiveName:       "alice",
		FullName:            "Alice Liddell",
		UserID:              1104,
		LogonDomainName:     "CORP",
		LogonDomainID:       "S-1-5-21-1-2-3",
		GroupMembershipSIDs: []string{"S-1-5-21-1-2-3-513", "S-1-5-21-1-2-3-1200"},
	})

	info, err := a.PeerInfo(context.Background(), &krb5ServerContext{creds: creds})
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Name)
	assert.Equal(t, "CORP", info.Domain)
	assert.Equal(t, "Alice Liddell", info.DisplayName)
	assert.Equal(t, "S-1-5-21-1-2-3-1104", info.SID)
	assert.Equal(t, []string{"S-1-5-21-1-2-3-513", "S-1-5-21-1-2-3-1200"}, info.Groups)
	assert.False(t, info.Guest)

	_, err = a.PeerInfo(context.Background(), &kerberosContext{})
	assert.Error(t, err)
}

func TestKerberosAcceptor_PeerInfoWithoutPAC(t *testing.T) {
	info := peerFromCredentials(credentials.New("bob", "EXAMPLE.COM"))
	assert.Equal(t, "bob", info.Name)
	assert.Equal(t, "EXAMPLE.COM", info.Domain)
	assert.Empty(t, info.SID)
	assert.Empty(t, info.Groups)
}
