package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/cogbot/pkg/models"
)

var telegramOnly = map[models.ChannelType]string{models.ChannelTelegram: "123:abc"}

func TestAcquireInstanceLock_Success(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireInstanceLock(InstanceLockOptions{StateDir: dir, Channels: telegramOnly})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	if lock == nil {
		t.Fatal("lock is nil")
	}

	data, err := os.ReadFile(lock.LockPath)
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PID != os.Getpid() || len(payload.Channels) != 1 || payload.Channels[0] != "telegram" {
		t.Errorf("payload = %+v", payload)
	}
	if strings.Contains(string(data), "123:abc") {
		t.Error("lock file contains the token")
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(lock.LockPath); !os.IsNotExist(err) {
		t.Error("lock file not removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	var nilLock *InstanceLockHandle
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestAcquireInstanceLock_BlocksSecondInstance(t *testing.T) {
	dir := t.TempDir()
	lockPath := resolveLockPath(dir, telegramOnly)
	payload := fmt.Sprintf(`{"pid": %d, "created_at": "2024-01-01T00:00:00Z"}`, os.Getpid())
	if err := os.WriteFile(lockPath, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := AcquireInstanceLock(InstanceLockOptions{
		StateDir:     dir,
		Channels:     telegramOnly,
		Timeout:      200 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})
	var lockErr *InstanceLockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("error = %v, want *InstanceLockError", err)
	}
	if !strings.Contains(lockErr.Error(), fmt.Sprintf("pid %d", os.Getpid())) {
		t.Errorf("message = %q", lockErr.Error())
	}
}

func TestAcquireInstanceLock_Skipped(t *testing.T) {
	tests := []struct {
		name string
		opts InstanceLockOptions
	}{
		{"allow multiple", InstanceLockOptions{Channels: telegramOnly, AllowMultiple: true}},
		{"no channels", InstanceLockOptions{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.StateDir = t.TempDir()
			lock, err := AcquireInstanceLock(tt.opts)
			if err != nil || lock != nil {
				t.Errorf("AcquireInstanceLock() = %v, %v; want nil, nil", lock, err)
			}
		})
	}

	t.Setenv(allowMultipleEnv, "1")
	lock, err := AcquireInstanceLock(InstanceLockOptions{StateDir: t.TempDir(), Channels: telegramOnly})
	if err != nil || lock != nil {
		t.Errorf("with %s: %v, %v", allowMultipleEnv, lock, err)
	}
}

func TestAcquireInstanceLock_DifferentCredentials(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireInstanceLock(InstanceLockOptions{StateDir: dir, Channels: telegramOnly})
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	second, err := AcquireInstanceLock(InstanceLockOptions{
		StateDir: dir,
		Channels: map[models.ChannelType]string{models.ChannelTelegram: "456:def"},
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("second lock error = %v", err)
	}
	defer second.Release()
	if first.LockPath == second.LockPath {
		t.Error("different credentials share a lock path")
	}
}

func TestAcquireInstanceLock_StaleLockRemoval(t *testing.T) {
	dir := t.TempDir()
	lockPath := resolveLockPath(dir, telegramOnly)
	// PID far above any real process
	if err := os.WriteFile(lockPath, []byte(`{"pid": 999999999}`), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireInstanceLock(InstanceLockOptions{
		StateDir: dir,
		Channels: telegramOnly,
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	defer lock.Release()
	if readLockPayload(lockPath).PID != os.Getpid() {
		t.Error("stale lock was not replaced")
	}
}

func TestAcquireInstanceLock_UnreadableStaleFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := resolveLockPath(dir, telegramOnly)
	if err := os.WriteFile(lockPath, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireInstanceLock(InstanceLockOptions{
		StateDir:     dir,
		Channels:     telegramOnly,
		StaleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	lock.Release()
}

func TestResolveLockPath(t *testing.T) {
	a := resolveLockPath("/state", map[models.ChannelType]string{
		models.ChannelTelegram: "t", models.ChannelDiscord: "d",
	})
	b := resolveLockPath("/state", map[models.ChannelType]string{
		models.ChannelDiscord: "d", models.ChannelTelegram: "t",
	})
	if a != b {
		t.Errorf("map order changed the path: %s vs %s", a, b)
	}
	if filepath.Dir(a) != "/state" || !strings.HasPrefix(filepath.Base(a), "cogbot.") {
		t.Errorf("path = %s", a)
	}
	if got := resolveLockPath("", telegramOnly); filepath.Dir(got) != filepath.Clean(os.TempDir()) {
		t.Errorf("default dir = %s", filepath.Dir(got))
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("current process reported dead")
	}
	for _, pid := range []int{0, -1} {
		if isProcessAlive(pid) {
			t.Errorf("pid %d reported alive", pid)
		}
	}
}
