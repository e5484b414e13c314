// Package discord adapts the league engine to Discord: it renders notices,
// manages voting reactions and turns slash commands and reactions into
// inbound events.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// ErrNoWritableChannel is returned when the bot cannot post anywhere in a
// guild.
var ErrNoWritableChannel = errors.New("no writable text channel")

const reactionPageSize = 100

// Session is the subset of *discordgo.Session the gateway calls.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageUnpin(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

type Options struct {
	// RatePerSecond and Burst bound outgoing REST calls across all guilds.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

// Gateway implements league.Gateway on top of a Discord session.
type Gateway struct {
	session   Session
	botUserID func() string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ league.Gateway = (*Gateway)(nil)

func NewGateway(session Session, botUserID func() string, opts Options) *Gateway {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		session:   session,
		botUserID: botUserID,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:    opts.Logger,
	}
}

// call waits for a rate-limit token and returns the request options every
// REST call carries.
func (g *Gateway) call(ctx context.Context) ([]discordgo.RequestOption, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return []discordgo.RequestOption{discordgo.WithContext(ctx)}, nil
}

func (g *Gateway) Post(ctx context.Context, guildID, channelHint string, n league.Notice) (league.MessageRef, error) {
	channelID, err := g.ResolveChannel(ctx, guildID, channelHint)
	if err != nil {
		return league.MessageRef{}, err
	}
	messages := Render(n)
	if len(messages) == 0 {
		return league.MessageRef{}, fmt.Errorf("render %s: empty notice", n.Kind)
	}

	opts, err := g.call(ctx)
	if err != nil {
		return league.MessageRef{}, err
	}
	primary, err := g.session.ChannelMessageSendComplex(channelID, messages[0], opts...)
	if err != nil {
		return league.MessageRef{}, fmt.Errorf("send %s: %w", n.Kind, err)
	}
	ref := league.MessageRef{ChannelID: channelID, MessageID: primary.ID}

	// The primary message is what the engine records; a lost follow-up only
	// costs detail text, so it is logged rather than failing the post.
	for i, msg := range messages[1:] {
		opts, err := g.call(ctx)
		if err == nil {
			_, err = g.session.ChannelMessageSendComplex(channelID, msg, opts...)
		}
		if err != nil {
			g.logger.Warn("follow-up message failed", "guild_id", guildID, "channel_id", channelID, "kind", n.Kind, "part", i+2, "error", err)
		}
	}
	return ref, nil
}

func (g *Gateway) AddMarkers(ctx context.Context, ref league.MessageRef, count int) (int, error) {
	count = min(count, MarkerBudget)
	for i := range count {
		marker, _ := Marker(i)
		opts, err := g.call(ctx)
		if err != nil {
			return i, err
		}
		if err := g.session.MessageReactionAdd(ref.ChannelID, ref.MessageID, marker, opts...); err != nil {
			return i, fmt.Errorf("add marker %d: %w", i, err)
		}
	}
	return count, nil
}

func (g *Gateway) FetchTallies(ctx context.Context, ref league.MessageRef, count int) ([]int, error) {
	msg, err := g.message(ctx, ref)
	if err != nil {
		return nil, err
	}
	tallies := make([]int, count)
	for _, r := range msg.Reactions {
		if r.Emoji == nil {
			continue
		}
		i, ok := MarkerIndex(r.Emoji.Name)
		if !ok || i >= count {
			continue
		}
		votes := r.Count
		if r.Me {
			votes--
		}
		tallies[i] = max(votes, 0)
	}
	return tallies, nil
}

func (g *Gateway) UserMarkers(ctx context.Context, ref league.MessageRef, userID string, count int) ([]int, error) {
	msg, err := g.message(ctx, ref)
	if err != nil {
		return nil, err
	}
	var placed []int
	for _, r := range msg.Reactions {
		if r.Emoji == nil {
			continue
		}
		i, ok := MarkerIndex(r.Emoji.Name)
		if !ok || i >= count {
			continue
		}
		others := r.Count
		if r.Me {
			others--
		}
		if others <= 0 {
			continue
		}
		reacted, err := g.reacted(ctx, ref, r.Emoji.APIName(), userID)
		if err != nil {
			return nil, err
		}
		if reacted {
			placed = append(placed, i)
		}
	}
	sort.Ints(placed)
	return placed, nil
}

// reacted pages through the users behind one reaction looking for userID.
func (g *Gateway) reacted(ctx context.Context, ref league.MessageRef, emoji, userID string) (bool, error) {
	after := ""
	for {
		opts, err := g.call(ctx)
		if err != nil {
			return false, err
		}
		users, err := g.session.MessageReactions(ref.ChannelID, ref.MessageID, emoji, reactionPageSize, "", after, opts...)
		if err != nil {
			return false, fmt.Errorf("list reactions: %w", err)
		}
		for _, u := range users {
			if u.ID == userID {
				return true, nil
			}
		}
		if len(users) < reactionPageSize {
			return false, nil
		}
		after = users[len(users)-1].ID
	}
}

func (g *Gateway) RemoveMarker(ctx context.Context, ref league.MessageRef, userID string, marker int) error {
	emoji, ok := Marker(marker)
	if !ok {
		return fmt.Errorf("marker %d out of range", marker)
	}
	opts, err := g.call(ctx)
	if err != nil {
		return err
	}
	return g.session.MessageReactionRemove(ref.ChannelID, ref.MessageID, emoji, userID, opts...)
}

func (g *Gateway) Pin(ctx context.Context, ref league.MessageRef) error {
	opts, err := g.call(ctx)
	if err != nil {
		return err
	}
	return g.session.ChannelMessagePin(ref.ChannelID, ref.MessageID, opts...)
}

func (g *Gateway) Unpin(ctx context.Context, ref league.MessageRef) error {
	opts, err := g.call(ctx)
	if err != nil {
		return err
	}
	return g.session.ChannelMessageUnpin(ref.ChannelID, ref.MessageID, opts...)
}

func (g *Gateway) ResolveRole(ctx context.Context, guildID, roleHint string) (league.Role, bool, error) {
	if roleHint == "" {
		return league.Role{}, false, nil
	}
	opts, err := g.call(ctx)
	if err != nil {
		return league.Role{}, false, err
	}
	roles, err := g.session.GuildRoles(guildID, opts...)
	if err != nil {
		return league.Role{}, false, fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if r.ID == roleHint {
			return league.Role{ID: r.ID, Name: r.Name}, true, nil
		}
	}
	return league.Role{}, false, nil
}

// ResolveChannel returns channelHint when the bot can post there, otherwise
// the first text channel, by position, that it can post in.
func (g *Gateway) ResolveChannel(ctx context.Context, guildID, channelHint string) (string, error) {
	if channelHint != "" {
		ok, err := g.writable(ctx, channelHint)
		if err != nil {
			g.logger.Warn("configured channel unavailable", "guild_id", guildID, "channel_id", channelHint, "error", err)
		}
		if ok {
			return channelHint, nil
		}
	}

	opts, err := g.call(ctx)
	if err != nil {
		return "", err
	}
	channels, err := g.session.GuildChannels(guildID, opts...)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	text := make([]*discordgo.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			text = append(text, ch)
		}
	}
	sort.SliceStable(text, func(i, j int) bool { return text[i].Position < text[j].Position })
	for _, ch := range text {
		if ch.ID == channelHint {
			continue
		}
		ok, err := g.writable(ctx, ch.ID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if ok {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("guild %s: %w", guildID, ErrNoWritableChannel)
}

func (g *Gateway) writable(ctx context.Context, channelID string) (bool, error) {
	opts, err := g.call(ctx)
	if err != nil {
		return false, err
	}
	perms, err := g.session.UserChannelPermissions(g.botUserID(), channelID, opts...)
	if err != nil {
		return false, err
	}
	return canPost(perms), nil
}

func canPost(perms int64) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	need := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
	return perms&need == need
}

func (g *Gateway) message(ctx context.Context, ref league.MessageRef) (*discordgo.Message, error) {
	opts, err := g.call(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := g.session.ChannelMessage(ref.ChannelID, ref.MessageID, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return msg, nil
}
