package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glimte/mmate-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Clients:       3,
		Transport:     "memory",
		QueuePrefix:   "test",
		Tags:          config.TagsSequential,
		EntryTTL:      time.Second,
		SweepInterval: 100 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		Rate:          100,
		MinDelay:      0,
		MaxDelay:      10 * time.Millisecond,
		Duration:      300 * time.Millisecond,
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("runs for the configured duration", func(t *testing.T) {
		var logs bytes.Buffer
		cmd := newRootCmd(testConfig(), &logs)
		cmd.SetArgs([]string{"--clients", "4", "--tags", "random"})
		cmd.SetContext(context.Background())

		require.NoError(t, cmd.Execute())

		out := logs.String()
		assert.Contains(t, out, "starting relay")
		assert.Contains(t, out, "clients=4")
		assert.Contains(t, out, "relay stopped")
		assert.Contains(t, out, `\"forwarded\"`)
	})

	t.Run("debug flag enables routing traces", func(t *testing.T) {
		var logs bytes.Buffer
		cmd := newRootCmd(testConfig(), &logs)
		cmd.SetArgs([]string{"--debug", "--duration", "500ms"})
		cmd.SetContext(context.Background())

		require.NoError(t, cmd.Execute())
		assert.Contains(t, logs.String(), "level=DEBUG")
	})

	t.Run("rejects invalid flags", func(t *testing.T) {
		cmd := newRootCmd(testConfig(), &bytes.Buffer{})
		cmd.SetArgs([]string{"--transport", "pigeon"})
		cmd.SetContext(context.Background())

		err := cmd.Execute()
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "pigeon"))
	})

	t.Run("runs against password protected redis", func(t *testing.T) {
		srv := miniredis.RunT(t)
		srv.RequireAuth("s3cret")

		var logs bytes.Buffer
		cmd := newRootCmd(testConfig(), &logs)
		cmd.SetArgs([]string{
			"--transport", "redis",
			"--redis-addr", srv.Addr(),
			"--redis-password", "s3cret",
			"--redis-db", "1",
		})
		cmd.SetContext(context.Background())

		require.NoError(t, cmd.Execute())
		assert.Contains(t, logs.String(), "connected to Redis")
		assert.Contains(t, logs.String(), "relay stopped")
	})

	t.Run("reports unreachable broker", func(t *testing.T) {
		cmd := newRootCmd(testConfig(), &bytes.Buffer{})
		cmd.SetArgs([]string{"--transport", "redis", "--redis-addr", "127.0.0.1:1"})
		cmd.SetContext(context.Background())

		assert.Error(t, cmd.Execute())
	})
}

func TestWatchSignals(t *testing.T) {
	t.Run("signal cancels the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		done := make(chan struct{})
		go func() {
			watchSignals(ctx, cancel, sigChan)
			close(done)
		}()

		sigChan <- syscall.SIGTERM

		<-done
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("returns once the run times out", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		defer cancel()
		ctx, stop := context.WithTimeout(parent, 10*time.Millisecond)
		defer stop()

		done := make(chan struct{})
		go func() {
			watchSignals(ctx, cancel, make(chan os.Signal))
			close(done)
		}()

		<-done
		assert.NoError(t, parent.Err())
	})
}

func TestNewTagGenerator(t *testing.T) {
	seq := newTagGenerator(config.TagsSequential)
	assert.Equal(t, seq.NextTag()+1, seq.NextTag())

	random := newTagGenerator(config.TagsRandom)
	assert.NotNil(t, random)
}
