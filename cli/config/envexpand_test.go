package config

import (
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("SWARM_BUCKET", "frames")
	t.Setenv("SWARM_EMPTY", "")
	t.Setenv("SWARM_PARTS", "16")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "bucket: ${SWARM_BUCKET}", "bucket: frames"},
		{"unset", "bucket: ${SWARM_UNSET_12345}", "bucket: "},
		{"default when unset", "listen: ${SWARM_UNSET_12345:-:13579}", "listen: :13579"},
		{"default ignored when set", "num_parts: ${SWARM_PARTS:-4}", "num_parts: 16"},
		{"default when empty", "bucket: ${SWARM_EMPTY:-scratch}", "bucket: scratch"},
		{"several", "${SWARM_BUCKET}/${SWARM_PARTS}", "frames/16"},
		{"bare dollar untouched", "command: echo $HOME", "command: echo $HOME"},
		{"placeholder untouched", "command: cp ##INFILE## ##OUTFILE##", "command: cp ##INFILE## ##OUTFILE##"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RelaySection(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")

	input := `relay:
  redis_url: redis://${REDIS_HOST}:${REDIS_PORT:-6379}/0`

	got := ExpandEnv(input)
	want := `relay:
  redis_url: redis://cache.internal:6379/0`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
