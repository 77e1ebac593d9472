package auth

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewStore(path)

	t.Run("EmptyWhenMissing", func(t *testing.T) {
		assert.Equal(t, "", store.Token("google"))
		names, err := store.Services()
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("SaveAndReload", func(t *testing.T) {
		require.NoError(t, store.SaveToken("folderfort", "ff-token"))
		require.NoError(t, store.SaveToken("dropbox", "db-token"))

		reopened := NewStore(path)
		assert.Equal(t, "ff-token", reopened.Token("folderfort"))
		names, err := reopened.Services()
		require.NoError(t, err)
		assert.Equal(t, []string{"dropbox", "folderfort"}, names)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("Delete", func(t *testing.T) {
		removed, err := store.Delete("dropbox")
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, "", store.Token("dropbox"))

		removed, err = store.Delete("dropbox")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("CorruptFile", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "credentials.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("services: [oops"), 0o600))
		s := NewStore(bad)
		assert.Equal(t, "", s.Token("google"))
		assert.Error(t, s.SaveToken("google", "x"))
	})
}

func TestPrompter(t *testing.T) {
	t.Run("LineWithDefault", func(t *testing.T) {
		var out bytes.Buffer
		p := NewPrompter(strings.NewReader("\nvalue\n"), &out)
		got, err := p.Line("Key file", "/tmp/key.json")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/key.json", got)
		assert.Contains(t, out.String(), "Key file [/tmp/key.json]: ")

		got, err = p.Line("Other", "")
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	})

	t.Run("LastLineWithoutNewline", func(t *testing.T) {
		p := NewPrompter(strings.NewReader("trailing"), &bytes.Buffer{})
		got, err := p.Line("Email", "")
		require.NoError(t, err)
		assert.Equal(t, "trailing", got)
	})

	t.Run("EOF", func(t *testing.T) {
		p := NewPrompter(strings.NewReader(""), &bytes.Buffer{})
		_, err := p.Line("Email", "")
		assert.Error(t, err)
	})

	t.Run("SecretOnTerminal", func(t *testing.T) {
		var out bytes.Buffer
		p := NewPrompter(strings.NewReader(""), &out)
		p.terminal = 0
		p.readPassword = func(int) ([]byte, error) { return []byte("hunter2\n"), nil }
		got, err := p.Secret("Password")
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
		assert.Equal(t, "Password: \n", out.String())
	})

	t.Run("SecretFromPipe", func(t *testing.T) {
		p := NewPrompter(strings.NewReader("piped\n"), &bytes.Buffer{})
		got, err := p.Secret("Password")
		require.NoError(t, err)
		assert.Equal(t, "piped", got)
	})
}

// recordingService captures the credentials a login hands over.
type recordingService struct {
	*cloud.MemoryService
	creds cloud.Credentials
}

func (r *recordingService) Authenticate(ctx context.Context, creds cloud.Credentials) (string, error) {
	r.creds = creds
	return "issued", nil
}

func TestLogins(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		kind  cloud.Kind
		input string
		want  cloud.Credentials
	}{
		{cloud.Folderfort, "me@example.com\nsecret\n", cloud.Credentials{Email: "me@example.com", Password: "secret"}},
		{cloud.Google, "\n", cloud.Credentials{File: "/keys/sa.json"}},
		{cloud.Dropbox, "sl.token\n", cloud.Credentials{Token: "sl.token"}},
		{cloud.S3, "AKID\nshh\n", cloud.Credentials{Extra: map[string]string{"access_key_id": "AKID", "secret_access_key": "shh"}}},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			p := NewPrompter(strings.NewReader(tc.input), &bytes.Buffer{})
			svc := &recordingService{MemoryService: cloud.NewMemoryService(string(tc.kind))}
			token, err := Logins(p, "/keys/sa.json")[tc.kind](ctx, svc)
			require.NoError(t, err)
			assert.Equal(t, "issued", token)
			assert.Equal(t, tc.want, svc.creds)
		})
	}

	t.Run("FactorySavesIssuedToken", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "credentials.yaml"))
		mem := cloud.NewMemoryService("dropbox").RequireToken()
		f := cloud.NewFactory(store, nil)
		f.Register(cloud.Dropbox, mem.Constructor())
		Register(f, NewPrompter(strings.NewReader("sl.abc\n"), &bytes.Buffer{}), "")

		svc, err := f.Create(ctx, "dropbox", true)
		require.NoError(t, err)
		assert.True(t, svc.IsAuthenticated())
		assert.Equal(t, "sl.abc", store.Token("dropbox"))
	})
}
