package andre

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// ErrNoAvatar is returned when the avatar directory has no image
var ErrNoAvatar = errors.New("no avatar image available")

// minLoopWait keeps a failing loop from spinning
const minLoopWait = time.Minute

// avatarExtensions are the image types the avatar loop picks from
var avatarExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// runLoop calls f, then waits for next() before calling it again, until
// ctx is canceled. A panic in f stops the loop.
func (a *Andre) runLoop(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	name string,
	initialWait time.Duration,
	next func() time.Duration,
	f func(ctx context.Context),
) {
	logger := a.logger.With("loop", name)
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		defer func() {
			handleRecover(ctx, recover())
		}()

		timer := time.NewTimer(initialWait)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.InfoContext(ctx, "context canceled, stopping loop")
				return
			case <-timer.C:
				f(ctx)
				wait := next()
				logger.DebugContext(ctx, "next run scheduled", "wait", wait)
				timer.Reset(wait)
			}
		}
	}()
}

// startBackground starts the status, list cache, avatar, birthday,
// command log and session lock loops
func (a *Andre) startBackground(ctx context.Context, runtimeWG *sync.WaitGroup) {
	cfg := a.config.Background

	a.runLoop(ctx, runtimeWG, "status", 0, a.nextStatusRotation, a.rotateStatus)

	if cfg.PreloadLists {
		a.runLoop(
			ctx, runtimeWG, "lists", 0,
			func() time.Duration { return cfg.ListRefreshInterval },
			a.preloadLists,
		)
	}

	if cfg.Avatar && a.config.Discord.AvatarDir != "" {
		a.runLoop(
			ctx, runtimeWG, "avatar", a.untilAvatarChange(),
			func() time.Duration { return max(a.untilAvatarChange(), minLoopWait) },
			func(ctx context.Context) {
				if err := a.rotateAvatar(ctx); err != nil {
					a.logger.ErrorContext(ctx, "error changing avatar", tint.Err(err))
				}
			},
		)
	}

	if cfg.Birthday {
		a.runLoop(
			ctx, runtimeWG, "birthday", a.untilNextBirthdayCheck(),
			func() time.Duration { return max(a.untilNextBirthdayCheck(), minLoopWait) },
			func(ctx context.Context) {
				if err := a.checkBirthdays(ctx); err != nil {
					a.logger.ErrorContext(ctx, "error checking birthdays", tint.Err(err))
				}
			},
		)
	}

	if a.config.CommandLogMaxAge > 0 && cfg.CommandLogPruneInterval > 0 {
		a.runLoop(
			ctx, runtimeWG, "command_log", cfg.CommandLogPruneInterval,
			func() time.Duration { return cfg.CommandLogPruneInterval },
			func(ctx context.Context) {
				pruneCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
				defer cancel()
				n, err := pruneCommandLogs(pruneCtx, a.writeDB, a.config.CommandLogMaxAge, a.now())
				if err != nil {
					a.logger.ErrorContext(ctx, "error pruning command logs", tint.Err(err))
					return
				}
				a.logger.InfoContext(ctx, "pruned command logs", "deleted", n)
			},
		)
	}

	if cfg.LockMaxHold > 0 {
		a.runLoop(
			ctx, runtimeWG, "locks", cfg.LockSweepInterval,
			func() time.Duration { return cfg.LockSweepInterval },
			a.sweepLocks,
		)
	}
}

// nextStatusRotation is the base interval plus 1 to 90 minutes
func (a *Andre) nextStatusRotation() time.Duration {
	return a.config.Background.StatusRotationInterval + time.Duration(a.randN(90)+1)*time.Minute
}

func (a *Andre) rotateStatus(ctx context.Context) {
	if !a.rotation.Load() {
		return
	}
	activity := a.randomActivity()
	a.setActivity(ctx, activity)
	a.logger.DebugContext(ctx, "status rotated", "activity", activityString(activity))
}

func (a *Andre) preloadLists(ctx context.Context) {
	users, err := usersWithMAL(ctx, a.db)
	if err != nil {
		a.logger.ErrorContext(ctx, "error listing users to preload", tint.Err(err))
		return
	}
	if err = a.cache.PreloadAll(ctx, malNames(users)); err != nil {
		a.logger.ErrorContext(ctx, "error preloading lists", tint.Err(err))
	}
}

func (a *Andre) sweepLocks(ctx context.Context) {
	released := a.state.Sweep(a.now())
	if len(released) == 0 {
		return
	}
	lockedUsers.Set(float64(a.state.Len()))
	for userID, command := range released {
		a.logger.WarnContext(ctx, "released stale session lock", "user_id", userID, "command", command)
	}
}

// untilAvatarChange returns the time left before the avatar is due
// for a change, from avatar_change_time
func (a *Andre) untilAvatarChange() time.Duration {
	var last int64
	ok, err := a.properties.Read(propAvatarChangeTime, &last)
	if err != nil || !ok || last == 0 {
		return 0
	}
	return untilAvatarChange(time.Unix(last, 0), a.now(), a.config.Background.AvatarInterval)
}

func untilAvatarChange(last, now time.Time, interval time.Duration) time.Duration {
	wait := last.Add(interval).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// avatarFiles lists the images in dir
func avatarFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, allowed := range avatarExtensions {
			if ext == allowed {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	return files, nil
}

// avatarDataURI encodes an image the way discord expects avatars
func avatarDataURI(img []byte) string {
	return fmt.Sprintf(
		"data:%s;base64,%s",
		http.DetectContentType(img),
		base64.StdEncoding.EncodeToString(img),
	)
}

// rotateAvatar sets a random image from the avatar directory as the
// bot's avatar, and records the time in avatar_change_time
func (a *Andre) rotateAvatar(ctx context.Context) error {
	files, err := avatarFiles(a.config.Discord.AvatarDir)
	if err != nil {
		return fmt.Errorf("error listing avatars: %w", err)
	}
	if len(files) == 0 {
		return ErrNoAvatar
	}
	path := files[a.randN(len(files))]
	img, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading avatar: %w", err)
	}

	if err = a.properties.Write(propAvatarChangeTime, a.now().Unix()); err != nil {
		return err
	}
	if _, err = a.discord.session.UserUpdate("", avatarDataURI(img)); err != nil {
		return fmt.Errorf("error updating avatar: %w", err)
	}
	a.logger.InfoContext(ctx, "avatar changed", "file", filepath.Base(path))
	return nil
}
