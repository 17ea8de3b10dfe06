package andre

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrUserLocked is returned by BotState.Lock when the user is already
// running an interactive command
var ErrUserLocked = errors.New("user is already running a command")

// UserLockedError carries the command holding the lock
type UserLockedError struct {
	Command string
}

func (e *UserLockedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUserLocked, e.Command)
}

func (*UserLockedError) Unwrap() error {
	return ErrUserLocked
}

// Message is what the user is DMed when the lock is refused
func (e *UserLockedError) Message() string {
	return fmt.Sprintf(
		"You're already using the command `%s`, please quit it before running another user command.",
		e.Command,
	)
}

type userLock struct {
	command string
	token   uint64
	started time.Time

	// active is the last time the flow asked for input, and wait how
	// long it said it would wait for it
	active time.Time
	wait   time.Duration
}

// BotState tracks which users are currently in an interactive flow, so
// one user can't run two of them at once. Each lock carries a token,
// so a flow released by Sweep or Clear can't release a newer lock when
// it eventually returns.
type BotState struct {
	mu        sync.Mutex
	locks     map[string]userLock
	lastToken uint64
	maxHold   time.Duration
	now       func() time.Time
}

// NewBotState returns an empty BotState. Locks idle longer than maxHold
// (on top of the flow's current wait) are released by Sweep. A zero
// maxHold disables sweeping.
func NewBotState(maxHold time.Duration) *BotState {
	return &BotState{
		locks:   map[string]userLock{},
		maxHold: maxHold,
		now:     time.Now,
	}
}

// Lock marks userID as running command, and returns the token needed
// to Unlock it. It returns a *UserLockedError if the user already holds
// a lock.
func (b *BotState) Lock(userID, command string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.locks[userID]; ok {
		return 0, &UserLockedError{Command: current.command}
	}
	b.lastToken++
	now := b.now()
	b.locks[userID] = userLock{command: command, token: b.lastToken, started: now, active: now}
	return b.lastToken, nil
}

// Unlock releases the user's lock if it's still the one token was
// issued for. It returns false when the lock was already released.
func (b *BotState) Unlock(userID string, token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.locks[userID]; !ok || l.token != token {
		return false
	}
	delete(b.locks, userID)
	return true
}

// Touch records that the flow holding token is about to wait up to
// wait for the user. A touched lock isn't swept before the wait is over.
func (b *BotState) Touch(userID string, token uint64, wait time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[userID]
	if !ok || l.token != token {
		return false
	}
	l.active = b.now()
	l.wait = wait
	b.locks[userID] = l
	return true
}

// Running returns a user ID -> command snapshot
func (b *BotState) Running() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	rv := make(map[string]string, len(b.locks))
	for id, l := range b.locks {
		rv[id] = l.command
	}
	return rv
}

// Since returns when each current lock was taken
func (b *BotState) Since() map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	rv := make(map[string]time.Time, len(b.locks))
	for id, l := range b.locks {
		rv[id] = l.started
	}
	return rv
}

func (b *BotState) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locks)
}

// Clear releases every lock
func (b *BotState) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.locks)
}

// Sweep releases locks idle for more than maxHold past their current
// wait, and returns the released user ID -> command pairs
func (b *BotState) Sweep(now time.Time) map[string]string {
	released := map[string]string{}
	if b.maxHold <= 0 {
		return released
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.DeleteFunc(
		b.locks, func(id string, l userLock) bool {
			if now.After(l.active.Add(l.wait + b.maxHold)) {
				released[id] = l.command
				return true
			}
			return false
		},
	)
	return released
}
