package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "server flags picked from mixed args",
			args:         []string{"-a", ":4000", "-g", ":50051", "-x", "1", "positional"},
			allowedFlags: []string{"-a", "-g"},
			want:         []string{"-a", ":4000", "-g", ":50051"},
		},
		{
			name:         "cli subcommands pass through untouched",
			args:         []string{"usage", "check", "-a", "http://api:4000", "--email", "a@b.co"},
			allowedFlags: []string{"-a", "-t", "-d"},
			want:         []string{"-a", "http://api:4000"},
		},
		{
			name:         "equals form keeps dashes in value",
			args:         []string{"--config=--weird.json", "-t", "30"},
			allowedFlags: []string{"--config"},
			want:         []string{"--config=--weird.json"},
		},
		{
			name:         "flag without value at end",
			args:         []string{"-d"},
			allowedFlags: []string{"-d"},
			want:         []string{"-d"},
		},
		{
			name:         "next dash token is not a value",
			args:         []string{"-c", "-env", ".env"},
			allowedFlags: []string{"-c", "-env"},
			want:         []string{"-c", "-env", ".env"},
		},
		{
			name:         "repeated flag keeps order",
			args:         []string{"-c", "base.json", "-c", "prod.json"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "base.json", "-c", "prod.json"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func Test_jsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		os.Args = []string{"testbin", "-x", "1", "-y", "2"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("multiple flags, last wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})
}

func Test_envFileFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("-env with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-env", ".env.local", "-c", "cfg.json"}
		assert.Equal(t, ".env.local", EnvFileFlags())
		assert.Equal(t, "cfg.json", JsonConfigFlags())
	})

	t.Run("-envfile with equals", func(t *testing.T) {
		os.Args = []string{"testbin", "-envfile=prod.env"}
		assert.Equal(t, "prod.env", EnvFileFlags())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"testbin", "-a", ":4000"}
		assert.Empty(t, EnvFileFlags())
	})
}
