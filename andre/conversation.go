package andre

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrConversationTimeout is returned by Conversations.Wait when no
// answer arrived in time
var ErrConversationTimeout = errors.New("timed out waiting for an answer")

// conversationTimeoutFormat is DMed with the user's name when a flow
// times out
const conversationTimeoutFormat = "_Dear diary, today I've been completely ignored by %s. " +
	"I've never felt so good!_\n" +
	"[This means the command has timed out, you need to start it again to continue]"

type conversationKey struct {
	userID    string
	channelID string
}

type conversationWaiter struct {
	ch         chan *discordgo.Message
	skipPrefix string

	// delivered is set, under Conversations.mu, once Deliver picked
	// the waiter
	delivered bool
}

// Conversations hands incoming messages to interactive flows that are
// waiting on an answer from a given user in a given channel.
type Conversations struct {
	mu      sync.Mutex
	waiters map[conversationKey]*conversationWaiter
}

func NewConversations() *Conversations {
	return &Conversations{waiters: map[conversationKey]*conversationWaiter{}}
}

// Deliver passes m to the flow waiting on its author and channel.
// It returns false if nothing consumed the message.
func (c *Conversations) Deliver(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	key := conversationKey{userID: m.Author.ID, channelID: m.ChannelID}

	c.mu.Lock()
	w, ok := c.waiters[key]
	if !ok || (w.skipPrefix != "" && strings.HasPrefix(m.Content, w.skipPrefix)) {
		c.mu.Unlock()
		return false
	}
	delete(c.waiters, key)
	w.delivered = true
	c.mu.Unlock()

	w.ch <- m
	return true
}

// Waiting reports whether a flow is waiting on the user in the channel
func (c *Conversations) Waiting(userID, channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waiters[conversationKey{userID: userID, channelID: channelID}]
	return ok
}

// Wait blocks until the user sends a message in the channel, the timeout
// expires, or ctx is done. When skipPrefix is set, messages starting with
// it are left to the command router.
func (c *Conversations) Wait(
	ctx context.Context,
	userID, channelID string,
	timeout time.Duration,
	skipPrefix string,
) (*discordgo.Message, error) {
	key := conversationKey{userID: userID, channelID: channelID}
	w := &conversationWaiter{ch: make(chan *discordgo.Message, 1), skipPrefix: skipPrefix}

	c.mu.Lock()
	c.waiters[key] = w
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case m := <-w.ch:
		return m, nil
	case <-timer.C:
		err = ErrConversationTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	if !c.remove(key, w) {
		// Deliver already took the waiter, so its message is on the way
		return <-w.ch, nil
	}
	return nil, err
}

// remove unregisters w. It returns false if Deliver picked it first.
func (c *Conversations) remove(key conversationKey, w *conversationWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[key] == w {
		delete(c.waiters, key)
	}
	return !w.delivered
}

// dmFlow is an interactive question/answer session in a user's DMs
type dmFlow struct {
	bot       *Andre
	ctx       context.Context
	user      *discordgo.User
	channelID string
	timeout   time.Duration

	// answers starting with skipPrefix are commands, not answers
	skipPrefix string

	// lockToken is the session lock held by the flow
	lockToken uint64
}

// startFlow locks the author for command and opens their DM channel.
// The returned func releases the lock.
func (a *Andre) startFlow(c *CommandContext, command string, timeout time.Duration) (*dmFlow, func(), error) {
	author := c.Author()
	if author == nil {
		return nil, nil, fmt.Errorf("%w: no author", ErrBadArgument)
	}
	token, err := a.state.Lock(author.ID, command)
	if err != nil {
		var locked *UserLockedError
		if errors.As(err, &locked) {
			logErr(c.Context(), c.Logger(), "error sending lock notice", c.Whisper(locked.Message()))
		}
		return nil, nil, err
	}
	lockedUsers.Set(float64(a.state.Len()))
	release := func() {
		a.state.Unlock(author.ID, token)
		lockedUsers.Set(float64(a.state.Len()))
	}

	channelID, err := a.discord.dmChannel(author.ID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return &dmFlow{
		bot:        a,
		ctx:        c.Context(),
		user:       author,
		channelID:  channelID,
		timeout:    timeout,
		skipPrefix: a.router.prefix,
		lockToken:  token,
	}, release, nil
}

func (f *dmFlow) say(content string) error {
	return f.bot.safeSay(f.channelID, content)
}

func (f *dmFlow) sayf(format string, args ...any) error {
	return f.say(fmt.Sprintf(format, args...))
}

// next waits for the user's next message, keeping the flow's lock
// alive for the wait
func (f *dmFlow) next() (*discordgo.Message, error) {
	f.bot.state.Touch(f.user.ID, f.lockToken, f.timeout)
	return f.bot.conversations.Wait(f.ctx, f.user.ID, f.channelID, f.timeout, f.skipPrefix)
}

// waitMessage returns the user's next message. On timeout, the user
// is told the flow stopped.
func (f *dmFlow) waitMessage() (*discordgo.Message, error) {
	m, err := f.next()
	if errors.Is(err, ErrConversationTimeout) {
		logErr(
			f.ctx, f.bot.logger, "error sending timeout notice",
			f.sayf(conversationTimeoutFormat, f.user.Username),
		)
	}
	return m, err
}

// wait returns the user's next answer. A "-" answer gives def, when
// set.
func (f *dmFlow) wait(def string) (string, error) {
	m, err := f.waitMessage()
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(m.Content)
	if content == "-" && def != "" {
		return def, nil
	}
	return content, nil
}

// ask sends the question and waits for the answer
func (f *dmFlow) ask(question, def string) (string, error) {
	if err := f.say(question); err != nil {
		return "", err
	}
	return f.wait(def)
}

// confirm asks a yes/no question until the answer is one of them
func (f *dmFlow) confirm(question string) (bool, error) {
	for {
		answer, err := f.ask(question+" (yes/no)", "")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "yes":
			return true, nil
		case "no":
			return false, nil
		}
	}
}
