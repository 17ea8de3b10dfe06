package andre

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommandLog records a single command execution
type CommandLog struct {
	ID        string   `json:"id" gorm:"primaryKey;size:36"`
	UserID    string   `json:"user_id" gorm:"not null;index"`
	Username  string   `json:"username"`
	ChannelID string   `json:"channel_id"`
	GuildID   string   `json:"guild_id,omitempty"`
	Command   string   `json:"command" gorm:"index;not null"`
	Content   string   `json:"content"`
	Inline    bool     `json:"inline"`
	Error     string   `json:"error,omitempty"`
	Duration  Duration `json:"duration"`
	CreatedAt int64    `json:"created_at" gorm:"autoCreateTime:milli;index"`
}

func (CommandLog) TableName() string {
	return "command_log"
}

func newCommandLog(c *CommandContext, name string, took time.Duration, err error) *CommandLog {
	entry := &CommandLog{
		ID:        uuid.NewString(),
		Command:   name,
		Inline:    c.Inline,
		Duration:  Duration{took},
		CreatedAt: time.Now().UnixMilli(),
	}
	if m := c.Message; m != nil {
		entry.ChannelID = m.ChannelID
		entry.GuildID = m.GuildID
		entry.Content = truncate(m.Content, 2000)
		if m.Author != nil {
			entry.UserID = m.Author.ID
			entry.Username = m.Author.Username
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

// recentCommandLogs returns up to limit logs, newest first, optionally
// filtered by user and command
func recentCommandLogs(
	ctx context.Context,
	db *gorm.DB,
	userID string,
	command string,
	limit int,
) ([]CommandLog, error) {
	var logs []CommandLog
	q := db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if command != "" {
		q = q.Where("command = ?", command)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("listing command logs: %w", err)
	}
	return logs, nil
}

// pruneCommandLogs deletes logs older than maxAge
func pruneCommandLogs(ctx context.Context, db DBI, maxAge time.Duration, now time.Time) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-maxAge).UnixMilli()
	return db.Delete(ctx, &CommandLog{}, "created_at < ?", cutoff)
}
