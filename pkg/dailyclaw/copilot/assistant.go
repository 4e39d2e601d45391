// Package copilot implements the DailyClaw assistant: the tool catalog over
// the per-chat store and scheduler, the LLM agent loop, and the dispatcher
// that connects them to the chat channels.
package copilot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// LocalChannel is the channel name of chats driven from the terminal.
const LocalChannel = "cli"

// emptyReplyText is sent when the agent produced no text.
const emptyReplyText = "Sorry, I couldn't generate a response."

// Event is an inbound chat message as the dispatcher sees it.
type Event struct {
	// ChatID is the transport-qualified chat key ("telegram:123").
	ChatID string
	Text   string

	IsGroup    bool
	ReplyToBot bool

	// Mentioned is set when the transport flagged an explicit mention.
	Mentioned bool
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLLM replaces the Anthropic client.
func WithLLM(llm LLM) Option {
	return func(a *Assistant) { a.llm = llm }
}

// WithSchedulerOptions passes options to the scheduler (clock, poll interval).
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(a *Assistant) { a.schedOpts = append(a.schedOpts, opts...) }
}

// Assistant is the dispatcher. Message flow: receive → gate → per-chat
// lock → history → agent (tools) → history → reply.
type Assistant struct {
	config *Config

	store     *store.Store
	sched     *scheduler.Scheduler
	schedOpts []scheduler.Option
	reminders *Reminders
	catalog   *Catalog
	executor  *ToolExecutor
	db        *sql.DB
	history   *History
	llm       LLM
	agent     *AgentRun

	channelMgr *channels.Manager

	wakeWord *regexp.Regexp

	chatMu sync.Mutex
	chats  map[string]*sync.Mutex

	localMu     sync.RWMutex
	localSender Sender

	// handlers tracks the message loop and the handlers it spawns.
	handlers sync.WaitGroup

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the assistant and every component it owns. The caller must
// call Close (or Stop after Start) to release the database.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Assistant{
		config:   cfg,
		wakeWord: WakeWordPattern(cfg.Name),
		chats:    make(map[string]*sync.Mutex),
		logger:   logger.With("component", "assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}

	st, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = st

	db, err := OpenDatabase(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.history = NewHistory(db, logger)

	a.channelMgr = channels.NewManager(logger)
	a.reminders = NewReminders(st, SenderFunc(a.send), logger)

	schedOpts := []scheduler.Option{scheduler.WithLocation(cfg.Location())}
	if cfg.Scheduler.PollIntervalSeconds > 0 {
		schedOpts = append(schedOpts, scheduler.WithPollInterval(time.Duration(cfg.Scheduler.PollIntervalSeconds)*time.Second))
	}
	a.sched = scheduler.New(a.reminders.Fire, logger, append(schedOpts, a.schedOpts...)...)
	a.reminders.now = a.sched.Now

	a.executor = NewToolExecutor(logger)
	a.executor.SetAuditor(a.history)
	a.catalog = NewCatalog(st, a.sched, logger)
	a.catalog.Register(a.executor)

	if a.llm == nil {
		a.llm = NewLLMClient(cfg, logger)
	}
	a.agent = NewAgentRun(a.llm, a.executor, cfg.Agent, logger)
	return a, nil
}

// Start restores scheduled entries, starts the scheduler, connects the
// channels and begins processing messages.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting DailyClaw",
		"name", a.config.Name,
		"model", a.config.Model,
		"tools", len(a.executor.ToolNames()),
	)

	if n, err := a.catalog.Restore(); err != nil {
		a.logger.Error("failed to restore scheduled entries", "error", err)
	} else {
		a.logger.Info("scheduled entries restored", "count", n)
	}
	if keep := a.config.History.MaxEntries * 10; keep > 0 {
		if _, err := a.history.Prune(a.ctx, keep); err != nil {
			a.logger.Warn("failed to prune history", "error", err)
		}
	}
	if err := a.sched.Start(a.ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	a.handlers.Add(1)
	go func() {
		defer a.handlers.Done()
		a.messageLoop()
	}()
	if secs := a.config.Scheduler.ResyncIntervalSeconds; secs > 0 {
		go a.resyncLoop(time.Duration(secs) * time.Second)
	}

	a.logger.Info("DailyClaw started")
	return nil
}

// Stop shuts everything down in reverse order and closes the database once
// in-flight message handlers have returned.
func (a *Assistant) Stop() {
	a.logger.Info("stopping DailyClaw...")
	if a.cancel != nil {
		a.cancel()
	}
	a.handlers.Wait()
	a.sched.Stop()
	a.channelMgr.Stop()
	a.Close()
	a.logger.Info("DailyClaw stopped")
}

// Close releases the database.
func (a *Assistant) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
		a.db = nil
	}
}

// ChannelManager returns the channel manager for channel registration.
func (a *Assistant) ChannelManager() *channels.Manager { return a.channelMgr }

// Executor returns the tool executor.
func (a *Assistant) Executor() *ToolExecutor { return a.executor }

// Scheduler returns the reminder scheduler.
func (a *Assistant) Scheduler() *scheduler.Scheduler { return a.sched }

// History returns the conversation history store.
func (a *Assistant) History() *History { return a.history }

// SetLocalSender routes messages for "cli:" chats (reminders fired while
// the REPL runs) to s.
func (a *Assistant) SetLocalSender(s Sender) {
	a.localMu.Lock()
	a.localSender = s
	a.localMu.Unlock()
}

// ShouldRespond applies group gating and returns the text to answer.
// Private chats are always answered. In groups the message must start with
// the wake word, reply to the bot or mention it. The wake word is stripped.
func (a *Assistant) ShouldRespond(ev Event) (string, bool) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return "", false
	}
	if loc := a.wakeWord.FindStringIndex(text); loc != nil {
		text = strings.TrimSpace(text[loc[1]:])
		return text, text != ""
	}
	if !ev.IsGroup || ev.ReplyToBot || ev.Mentioned {
		return text, true
	}
	return "", false
}

// HandleEvent answers one inbound message. It returns false when the
// message is not addressed to the assistant. Failures are turned into a
// user-facing reply; HandleEvent never fails.
func (a *Assistant) HandleEvent(ctx context.Context, ev Event) (string, bool) {
	text, ok := a.ShouldRespond(ev)
	if !ok {
		return "", false
	}

	lock := a.chatLock(ev.ChatID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	logger := a.logger.With("chat_id", ev.ChatID)

	if secs := a.config.Agent.RunTimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	history, err := a.history.Recent(ctx, ev.ChatID, a.config.History.MaxEntries)
	if err != nil {
		logger.Warn("failed to load history", "error", err)
	}

	prompt := BuildSystemPrompt(a.config.Name, a.config.Instructions, a.sched.Now(), a.catalog.displayLocation(ev.ChatID))
	reply, usage, err := a.agent.Run(ctx, ev.ChatID, prompt, history, text)
	if err != nil {
		logger.Error("agent run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return "That took too long, please try again.", true
		}
		return UserMessage(err), true
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = emptyReplyText
	}

	if err := a.history.Append(ctx, ev.ChatID, ConversationEntry{
		UserMessage:       text,
		AssistantResponse: reply,
		Timestamp:         a.sched.Now(),
	}); err != nil {
		logger.Warn("failed to save history", "error", err)
	}

	logger.Info("message processed",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return reply, true
}

func (a *Assistant) messageLoop() {
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			a.handlers.Add(1)
			go func() {
				defer a.handlers.Done()
				a.handleMessage(msg)
			}()
		case <-a.ctx.Done():
			return
		}
	}
}

// resyncLoop re-registers stored reminders periodically. Entries are keyed
// by tag, so re-adding an unchanged one is a no-op for delivery.
func (a *Assistant) resyncLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := a.catalog.Restore(); err != nil {
				a.logger.Warn("scheduler resync failed", "error", err)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Assistant) handleMessage(msg *channels.IncomingMessage) {
	if msg.Type != "" && msg.Type != channels.MessageText {
		return
	}
	ev := Event{
		ChatID:     msg.ChatKey(),
		Text:       msg.Content,
		IsGroup:    msg.IsGroup,
		ReplyToBot: msg.ReplyToBot,
		Mentioned:  msg.Mentioned,
	}
	if _, ok := a.ShouldRespond(ev); !ok {
		return
	}
	a.channelMgr.SendTyping(a.ctx, ev.ChatID)

	reply, ok := a.HandleEvent(a.ctx, ev)
	if !ok {
		return
	}
	if err := a.channelMgr.SendText(a.ctx, ev.ChatID, reply); err != nil {
		a.logger.Error("failed to send reply", "chat_id", ev.ChatID, "error", err)
	}
}

// send delivers scheduler output to the chat's transport.
func (a *Assistant) send(ctx context.Context, chatID, text string) error {
	if channel, _, ok := channels.ParseChatKey(chatID); ok && channel == LocalChannel {
		a.localMu.RLock()
		s := a.localSender
		a.localMu.RUnlock()
		if s == nil {
			return fmt.Errorf("no local sender for %s", chatID)
		}
		return s.SendText(ctx, chatID, text)
	}
	return a.channelMgr.SendText(ctx, chatID, text)
}

func (a *Assistant) chatLock(chatID string) *sync.Mutex {
	a.chatMu.Lock()
	defer a.chatMu.Unlock()
	m, ok := a.chats[chatID]
	if !ok {
		m = &sync.Mutex{}
		a.chats[chatID] = m
	}
	return m
}

// WakeWordPattern matches the assistant name at the start of a message,
// optionally followed by ":" or ",".
func WakeWordPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b[:,]?\s*`)
}
