package gateway

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/haasonsaas/cogbot/pkg/models"
)

// Two processes polling the same bot token fight over updates (Telegram
// answers 409 Conflict), so a bot holds a lock per credential set.
const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStaleTimeout = 30 * time.Second

	allowMultipleEnv = "COGBOT_ALLOW_MULTIPLE_INSTANCES"
)

// InstanceLockError is returned when the instance lock cannot be acquired.
type InstanceLockError struct {
	Message string
	Cause   error
}

func (e *InstanceLockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InstanceLockError) Unwrap() error {
	return e.Cause
}

// InstanceLockHandle is an acquired instance lock.
type InstanceLockHandle struct {
	LockPath string
	file     *os.File
	released bool
}

// Release removes the lock file. It is safe on a nil or released handle.
func (h *InstanceLockHandle) Release() error {
	if h == nil || h.released {
		return nil
	}
	h.released = true
	if h.file != nil {
		_ = h.file.Close()
	}
	return os.Remove(h.LockPath)
}

// InstanceLockOptions configures lock acquisition.
type InstanceLockOptions struct {
	// StateDir holds the lock file (os.TempDir() when empty)
	StateDir string

	// Channels maps each enabled channel to its credentials. Only a hash of
	// them reaches the disk.
	Channels map[models.ChannelType]string

	Timeout      time.Duration
	PollInterval time.Duration
	StaleTimeout time.Duration

	// AllowMultiple skips locking
	AllowMultiple bool
}

type lockPayload struct {
	PID       int      `json:"pid"`
	CreatedAt string   `json:"created_at"`
	Channels  []string `json:"channels"`
}

// AcquireInstanceLock takes the lock for the configured credentials, waiting
// up to Timeout for another process to release it. It returns a nil handle
// when no channel is enabled, when AllowMultiple is set, or when
// COGBOT_ALLOW_MULTIPLE_INSTANCES=1.
func AcquireInstanceLock(opts InstanceLockOptions) (*InstanceLockHandle, error) {
	if opts.AllowMultiple || os.Getenv(allowMultipleEnv) == "1" || len(opts.Channels) == 0 {
		return nil, nil
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}
	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	staleTimeout := opts.StaleTimeout
	if staleTimeout == 0 {
		staleTimeout = DefaultStaleTimeout
	}

	lockPath := resolveLockPath(opts.StateDir, opts.Channels)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, &InstanceLockError{
			Message: fmt.Sprintf("failed to create lock directory: %s", filepath.Dir(lockPath)),
			Cause:   err,
		}
	}

	start := time.Now()
	var last *lockPayload
	for time.Since(start) < timeout {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			data, err := json.Marshal(lockPayload{
				PID:       os.Getpid(),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Channels:  channelNames(opts.Channels),
			})
			if err == nil {
				_, err = file.Write(data)
			}
			if err != nil {
				_ = file.Close()
				_ = os.Remove(lockPath)
				return nil, &InstanceLockError{Message: "failed to write lock payload", Cause: err}
			}
			return &InstanceLockHandle{LockPath: lockPath, file: file}, nil
		}
		if !os.IsExist(err) {
			return nil, &InstanceLockError{
				Message: fmt.Sprintf("failed to acquire instance lock at %s", lockPath),
				Cause:   err,
			}
		}

		last = readLockPayload(lockPath)
		if last != nil && !isProcessAlive(last.PID) {
			_ = os.Remove(lockPath)
			continue
		}
		if last == nil && isLockFileStale(lockPath, staleTimeout) {
			_ = os.Remove(lockPath)
			continue
		}
		time.Sleep(pollInterval)
	}

	owner := ""
	if last != nil {
		owner = fmt.Sprintf(" (pid %d)", last.PID)
	}
	return nil, &InstanceLockError{
		Message: fmt.Sprintf("another bot with the same credentials is running%s; lock timeout after %v", owner, timeout),
	}
}

// resolveLockPath names the lock after a hash of the channel credentials, so
// bots with different tokens never contend.
func resolveLockPath(stateDir string, channels map[models.ChannelType]string) string {
	if stateDir == "" {
		stateDir = os.TempDir()
	}
	h := sha1.New()
	for _, name := range channelNames(channels) {
		fmt.Fprintf(h, "%s=%s\n", name, channels[models.ChannelType(name)])
	}
	return filepath.Join(stateDir, fmt.Sprintf("cogbot.%s.lock", hex.EncodeToString(h.Sum(nil))[:12]))
}

func channelNames(channels map[models.ChannelType]string) []string {
	names := make([]string, 0, len(channels))
	for ch := range channels {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return names
}

func readLockPayload(lockPath string) *lockPayload {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil
	}
	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.PID <= 0 {
		return nil
	}
	return &payload
}

// isProcessAlive sends signal 0, which checks for existence without
// delivering anything.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func isLockFileStale(lockPath string, staleTimeout time.Duration) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > staleTimeout
}
