package nats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/locrit/platform/pkg/logger"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "locrit.msg.conv.0190-abc", ConversationSubject("0190-abc"))
	assert.Equal(t, "locrit.msg.locrit.pixie", LocritSubject("pixie"))
}

func TestSubjectTokenEncodesUnsafeIDs(t *testing.T) {
	assert.Equal(t, "0190-abc", subjectToken("0190-abc"))
	assert.Equal(t, "b64_bXkgbG9jcml0LnYy", subjectToken("my locrit.v2"))
	assert.Equal(t, "locrit.msg.locrit.b64_eC55", LocritSubject("x.y"))
}

func TestSubjectTokensDoNotCollide(t *testing.T) {
	ids := []string{"a.b", "a_b", "a b", "a*b", "a>b", "ab", "YS5i", "b64_YS5i", ""}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		tok := subjectToken(id)
		assert.NotContains(t, tok, ".")
		assert.NotContains(t, tok, "*")
		assert.NotContains(t, tok, ">")
		if prev, ok := seen[tok]; ok {
			t.Fatalf("ids %q and %q share subject token %q", prev, id, tok)
		}
		seen[tok] = id
	}
}

func TestConfigTLSEnabled(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    bool
		wantErr bool
	}{
		{name: "plaintext", cfg: Config{URL: "nats://localhost:4222"}},
		{name: "mutual tls", cfg: Config{CAFile: "ca.pem", CertFile: "c.pem", KeyFile: "k.pem"}, want: true},
		{name: "missing key", cfg: Config{CAFile: "ca.pem", CertFile: "c.pem"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.tlsEnabled()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectOptionsRejectsUnreadableCA(t *testing.T) {
	_, err := connectOptions(Config{
		CAFile:   filepath.Join(t.TempDir(), "missing.pem"),
		CertFile: "c.pem",
		KeyFile:  "k.pem",
	}, logger.Nop())
	assert.ErrorContains(t, err, "reading NATS CA file")
}
