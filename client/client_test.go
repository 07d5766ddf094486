package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	cases := map[string]string{
		"/tmp/launcherd.sock":        "unix:///tmp/launcherd.sock",
		"unix:///run/launcherd.sock": "unix:///run/launcherd.sock",
		"localhost:50051":            "localhost:50051",
		"launcherd.sock":             "unix://launcherd.sock",
		"passthrough:///bufnet":      "passthrough:///bufnet",
	}
	for in, want := range cases {
		assert.Equal(t, want, target(in), in)
	}
}

func TestIsEvent(t *testing.T) {
	assert.True(t, isEvent("query:chunk", "query:chunk"))
	assert.True(t, isEvent("query:chunk:p1", "query:chunk"))
	assert.False(t, isEvent("query:chunked", "query:chunk"))
	assert.False(t, isEvent("query:done:p1", "query:chunk"))
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	sock := t.TempDir() + "/absent.sock"

	start := time.Now()
	_, err := ConnectWithRetry(context.Background(), sock, 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Less(t, time.Since(start), 5*time.Second)
}
