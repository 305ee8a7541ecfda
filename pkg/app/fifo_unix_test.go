//go:build unix

package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishIngestOverNamedPipes(t *testing.T) {
	cfg := testConfig()
	cfg.Pipes.Dir = t.TempDir()
	cfg.Publisher.Codec = "proto"

	// files next to the pipes are left alone
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Pipes.Dir, "unrelated.txt"), nil, 0o600))

	pubDB, ingDB := newFakeDB(), newFakeDB()
	pub := New(cfg, zaptest.NewLogger(t), WithStore(opener(pubDB)))
	ing := New(cfg, zaptest.NewLogger(t), WithStore(opener(ingDB)))
	ingDone := runRole(ing.Ingest)
	time.Sleep(10 * time.Millisecond)
	pubDone := runRole(pub.Publish)

	require.Eventually(t, func() bool {
		return ingDB.count("claim") >= 5 && ingDB.count("diagnose") >= 5
	}, 5*time.Second, time.Millisecond)

	pub.Coordinator().Trigger("test")
	require.NoError(t, wait(t, pubDone))
	require.NoError(t, wait(t, ingDone))

	for _, name := range []string{cfg.Pipes.Claim, cfg.Pipes.Diagnose} {
		_, err := os.Stat(filepath.Join(cfg.Pipes.Dir, name))
		assert.True(t, os.IsNotExist(err), "%s removed at exit", name)
	}
	assert.FileExists(t, filepath.Join(cfg.Pipes.Dir, "unrelated.txt"))
}
