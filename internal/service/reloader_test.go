package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerlex/internal/config"
)

type countingTarget struct {
	mu       sync.Mutex
	triggers []string
}

func (c *countingTarget) Reload(_ context.Context, trigger string) (*ReloadSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, trigger)
	return &ReloadSummary{Trigger: trigger}, nil
}

func (c *countingTarget) seen(trigger string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.triggers {
		if t == trigger {
			return true
		}
	}
	return false
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestReloaderWatchTriggersReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns: []\n"), 0o644))

	target := &countingTarget{}
	cfg := config.ReloadConfig{Watch: true, Debounce: config.Duration(20 * time.Millisecond)}
	r := NewReloader(target, cfg, []string{path}, quietLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	require.NotNil(t, r.Watching())
	select {
	case <-r.Watching().Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ready")
	}

	require.NoError(t, os.WriteFile(path, []byte("patterns: []\n# changed\n"), 0o644))
	assert.Eventually(t, func() bool { return target.seen(TriggerWatch) }, 2*time.Second, 20*time.Millisecond)
}

func TestReloaderCronTriggersReload(t *testing.T) {
	target := &countingTarget{}
	r := NewReloader(target, config.ReloadConfig{Schedule: "@every 1s"}, nil, quietLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	assert.Nil(t, r.Watching())
	assert.Eventually(t, func() bool { return target.seen(TriggerCron) }, 3*time.Second, 50*time.Millisecond)
}

func TestReloaderRejectsBadSchedule(t *testing.T) {
	r := NewReloader(&countingTarget{}, config.ReloadConfig{Schedule: "every tuesday"}, nil, quietLogger())
	assert.Error(t, r.Start(context.Background()))
}

func TestReloaderDisabled(t *testing.T) {
	target := &countingTarget{}
	r := NewReloader(target, config.ReloadConfig{}, []string{"ignored.yaml"}, quietLogger())
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	assert.Empty(t, target.triggers)
}
