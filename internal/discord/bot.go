package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/inbound"

	"github.com/bwmarrin/discordgo"
)

// Dispatcher queues inbound events. inbound.Bus implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev inbound.Event) (inbound.Result, error)
	Publish(ev inbound.Event) error
}

// Advancer lets a forced deadline take effect without waiting for the next
// scheduler sweep.
type Advancer interface {
	AdvanceGuild(ctx context.Context, guildID string) error
}

type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type BotOptions struct {
	// CommandGuildID registers commands in one guild instead of globally,
	// which makes them available immediately during development.
	CommandGuildID string
	Advancer       Advancer
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Bot owns the Discord session's event handlers.
type Bot struct {
	session    *discordgo.Session
	dispatcher Dispatcher
	opts       BotOptions
	logger     *slog.Logger
}

func NewBot(session *discordgo.Session, dispatcher Dispatcher, opts BotOptions) *Bot {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bot{session: session, dispatcher: dispatcher, opts: opts, logger: opts.Logger}
}

// NewSession creates a session with the intents the bot relies on.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessageReactions
	return session, nil
}

// BotUserID returns the bot's own user id once the session is ready.
func BotUserID(session *discordgo.Session) func() string {
	return func() string {
		if session.State == nil || session.State.User == nil {
			return ""
		}
		return session.State.User.ID
	}
}

// Open connects the session and registers the slash commands.
func (b *Bot) Open(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteraction(s, i.Interaction)
	})
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		b.onReactionAdd(r.MessageReaction)
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	appID := BotUserID(b.session)()
	cmds, err := b.session.ApplicationCommandBulkOverwrite(appID, b.opts.CommandGuildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger.Info("discord connected", "user_id", appID, "commands", len(cmds), "command_guild_id", b.opts.CommandGuildID)
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

func publicKind(kind inbound.Kind) bool {
	switch kind {
	case inbound.KindStatus, inbound.KindLeaderboard, inbound.KindSettings:
		return true
	}
	return false
}

// onInteraction acknowledges the command straight away, since handling can
// outlast the platform's response deadline, then edits in the reply.
func (b *Bot) onInteraction(r responder, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ev, err := eventFor(i)
	if err != nil {
		reply := errorReply(ev, err)
		if err := r.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: reply,
		}); err != nil {
			b.logger.Warn("interaction reply failed", "guild_id", i.GuildID, "error", err)
		}
		return
	}

	deferred := &discordgo.InteractionResponseData{}
	if !publicKind(ev.Kind) {
		deferred.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: deferred,
	}); err != nil {
		b.logger.Warn("interaction ack failed", "guild_id", ev.GuildID, "command", ev.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.Timeout)
	defer cancel()
	res, err := b.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		b.logger.Info("command rejected", "guild_id", ev.GuildID, "user_id", ev.UserID, "command", ev.Kind, "error", err)
	} else {
		b.afterCommand(ev)
	}

	reply := replyFor(ev, res, err)
	edit := &discordgo.WebhookEdit{
		Content:         &reply.Content,
		Embeds:          &reply.Embeds,
		AllowedMentions: reply.AllowedMentions,
	}
	if _, err := r.InteractionResponseEdit(i, edit, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("interaction edit failed", "guild_id", ev.GuildID, "command", ev.Kind, "error", err)
	}
}

func (b *Bot) afterCommand(ev inbound.Event) {
	if b.opts.Advancer == nil {
		return
	}
	if ev.Kind != inbound.KindEndSubmission && ev.Kind != inbound.KindEndVoting {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.Timeout)
		defer cancel()
		if err := b.opts.Advancer.AdvanceGuild(ctx, ev.GuildID); err != nil {
			b.logger.Warn("advance after forced deadline failed", "guild_id", ev.GuildID, "error", err)
		}
	}()
}

// voteEvent maps a reaction to a vote event. Reactions outside guilds, by
// the bot itself, or with emoji that are not voting markers are dropped.
func voteEvent(r *discordgo.MessageReaction, botUserID string) (inbound.Event, bool) {
	if r == nil || r.GuildID == "" || r.UserID == "" || r.UserID == botUserID {
		return inbound.Event{}, false
	}
	marker, ok := MarkerIndex(r.Emoji.Name)
	if !ok {
		return inbound.Event{}, false
	}
	return inbound.Event{
		Kind:      inbound.KindVote,
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Marker:    marker,
	}, true
}

func (b *Bot) onReactionAdd(r *discordgo.MessageReaction) {
	ev, ok := voteEvent(r, BotUserID(b.session)())
	if !ok {
		return
	}
	if err := b.dispatcher.Publish(ev); err != nil {
		b.logger.Warn("vote not queued", "guild_id", ev.GuildID, "message_id", ev.MessageID, "error", err)
	}
}
