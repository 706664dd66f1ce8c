package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/windowchat/internal/commander"
	"github.com/stupiduntilnot/windowchat/internal/control"
	"github.com/stupiduntilnot/windowchat/internal/db"
	"github.com/stupiduntilnot/windowchat/internal/journal"
	"github.com/stupiduntilnot/windowchat/internal/session"
)

const (
	offsetCursor = "telegram.offset"
	startCommand = "/start"
	chatQueueLen = 8
)

// bridge maps each chat to its own session. Messages of one chat are handled
// in order by that chat's goroutine.
type bridge struct {
	commander   cmdpkg.Commander
	registry    *session.Registry
	journal     *journal.Journal
	db          *sql.DB
	logger      *zap.Logger
	pollTimeout int
	idle        time.Duration
	dropPending bool
	pendingWin  int64
	pendingMax  int
	poller      *control.CircuitBreaker

	mu    sync.Mutex
	chats map[int64]*chat
	wg    sync.WaitGroup
}

type chat struct {
	id        int64
	inbox     chan string
	sessionID string // owned by the chat goroutine
}

func newBridge(commander cmdpkg.Commander, a *app, logger *zap.Logger) *bridge {
	return &bridge{
		commander:   commander,
		registry:    a.registry,
		journal:     a.journal,
		db:          a.db,
		logger:      logger,
		pollTimeout: a.cfg.TelegramPollTimeout,
		idle:        time.Duration(a.cfg.SleepSeconds) * time.Second,
		dropPending: a.cfg.DropPending,
		pendingWin:  a.cfg.PendingWindowSeconds,
		pendingMax:  a.cfg.PendingMaxMessages,
		poller:      control.NewCircuitBreaker(a.cfg.CircuitThreshold, time.Duration(a.cfg.CircuitCooldownSeconds)*time.Second),
		chats:       map[int64]*chat{},
	}
}

// run polls until ctx is done, then waits for in-flight chats to stop.
func (b *bridge) run(ctx context.Context) error {
	defer b.wg.Wait()

	offset, err := db.LoadCursor(b.db, offsetCursor)
	if err != nil {
		return err
	}
	if offset == 0 && b.dropPending {
		bootstrapped, err := bootstrapOffset(b.commander, b.pendingWin, b.pendingMax)
		if err != nil {
			b.logger.Warn("bootstrap offset failed", zap.Error(err))
		} else {
			offset = bootstrapped
		}
	}
	b.logger.Info("telegram bridge running", zap.Int64("offset", offset))

	for ctx.Err() == nil {
		if !b.poller.Allow(time.Now()) {
			sleepCtx(ctx, b.idle)
			continue
		}
		updates, err := b.commander.GetUpdates(offset, b.pollTimeout)
		if err != nil {
			b.logger.Warn("getUpdates failed", zap.Error(err))
			b.poller.RecordFailure("command_source_api", time.Now())
			sleepCtx(ctx, b.idle)
			continue
		}
		b.poller.RecordSuccess()
		if len(updates) == 0 {
			sleepCtx(ctx, b.idle)
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			if update.Message == nil || update.Message.Text == nil {
				continue
			}
			text := strings.TrimSpace(*update.Message.Text)
			if text == "" {
				continue
			}
			b.dispatch(ctx, update.Message.Chat.ID, text)
		}
		if err := db.SaveCursor(b.db, offsetCursor, offset); err != nil {
			b.logger.Warn("save offset failed", zap.Int64("offset", offset), zap.Error(err))
		}
	}
	return nil
}

func (b *bridge) dispatch(ctx context.Context, chatID int64, text string) {
	b.mu.Lock()
	c, ok := b.chats[chatID]
	if !ok {
		c = &chat{id: chatID, inbox: make(chan string, chatQueueLen)}
		b.chats[chatID] = c
		b.wg.Add(1)
		go b.serveChat(ctx, c)
	}
	b.mu.Unlock()

	select {
	case c.inbox <- text:
	default:
		b.logger.Warn("chat queue full", zap.Int64("chat_id", chatID))
		b.reply(chatID, "", session.UserMessage(session.ErrBusy), false)
	}
}

func (b *bridge) serveChat(ctx context.Context, c *chat) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.inbox:
			b.process(ctx, c, text)
		}
	}
}

func (b *bridge) process(ctx context.Context, c *chat, text string) {
	if text == startCommand || text == cmdpkg.ResetCommand {
		if c.sessionID != "" {
			_ = b.registry.End(c.sessionID)
			c.sessionID = ""
		}
		b.startSession(c)
		return
	}

	s, err := b.registry.Get(c.sessionID)
	if err != nil {
		if !b.startSession(c) {
			return
		}
		if s, err = b.registry.Get(c.sessionID); err != nil {
			b.reply(c.id, c.sessionID, session.UserMessage(err), false)
			return
		}
	}

	response, err := s.Send(ctx, text)
	if err != nil {
		if errors.Is(err, session.ErrAbandoned) {
			return
		}
		b.reply(c.id, c.sessionID, session.UserMessage(err), false)
		return
	}
	b.reply(c.id, c.sessionID, response, false)
}

func (b *bridge) startSession(c *chat) bool {
	s, err := b.registry.Start()
	if err != nil {
		b.reply(c.id, c.sessionID, session.UserMessage(err), false)
		return false
	}
	c.sessionID = s.ID()
	b.logger.Info("chat session started", zap.Int64("chat_id", c.id), zap.String("session_id", c.sessionID))
	b.reply(c.id, c.sessionID, session.Greeting, true)
	return true
}

// reply sends text to a chat. sessionID is empty when called off the chat
// goroutine; the reply is then not journaled.
func (b *bridge) reply(chatID int64, sessionID, text string, withReset bool) {
	var err error
	if withReset {
		err = b.commander.SendWithReset(chatID, text)
	} else {
		err = b.commander.SendMessage(chatID, text)
	}
	if err != nil {
		b.logger.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if b.journal != nil && sessionID != "" {
		b.journal.ReplySent(sessionID, map[string]any{"chat_id": chatID, "chars": len([]rune(text))})
	}
}

// bootstrapOffset skips the backlog on first start, keeping at most
// pendingMax messages younger than pendingWindowSeconds.
func bootstrapOffset(commander cmdpkg.Commander, pendingWindowSeconds int64, pendingMax int) (int64, error) {
	updates, err := commander.GetUpdates(0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Unix() - pendingWindowSeconds

	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}

	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}

	if len(inWindow) > pendingMax {
		inWindow = inWindow[len(inWindow)-pendingMax:]
	}

	return inWindow[0].UpdateID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
