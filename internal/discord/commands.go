package discord

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/inbound"
	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/bwmarrin/discordgo"
)

// errForbidden marks a command the caller lacks guild permissions for.
var errForbidden = errors.New("forbidden")

var (
	adminOnly   = int64(discordgo.PermissionAdministrator)
	manageGuild = int64(discordgo.PermissionManageGuild)
	oneDay      = 1.0
	oneResult   = 1.0
)

func daysOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		MinValue:    &oneDay,
		MaxValue:    30,
	}
}

// Commands returns the slash commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        string(inbound.KindStart),
			Description: "Start a new round of Music League",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "theme",
				Description: "Theme for this round",
				Required:    true,
				MaxLength:   league.MaxThemeLength,
			}},
		},
		{
			Name:        string(inbound.KindSubmit),
			Description: "Submit a song for the current Music League round",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "song",
					Description: "Link or title of your submission",
					Required:    true,
					MaxLength:   league.MaxContentLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Why you chose this song",
					MaxLength:   league.MaxDescriptionLength,
				},
			},
		},
		{
			Name:        string(inbound.KindSubmitTheme),
			Description: "Propose a theme for the next round",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "theme",
					Description: "Your theme idea",
					Required:    true,
					MaxLength:   league.MaxThemeLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "What fits the theme",
					MaxLength:   league.MaxDescriptionLength,
				},
			},
		},
		{
			Name:        string(inbound.KindStatus),
			Description: "Check the status of the current Music League round",
		},
		{
			Name:        string(inbound.KindLeaderboard),
			Description: "Show the top players in Music League",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: "Number of players to show (default: 5)",
				MinValue:    &oneResult,
				MaxValue:    league.MaxLeaderboardLimit,
			}},
		},
		{
			Name:                     string(inbound.KindEndSubmission),
			Description:              "Forcibly end the submission period and start voting",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     string(inbound.KindEndVoting),
			Description:              "Forcibly end the voting period and calculate results",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     string(inbound.KindSettings),
			Description:              "Configure Music League settings",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				daysOption("submission_days", "Number of days for the submission period"),
				daysOption("voting_days", "Number of days for the voting period"),
				daysOption("theme_submission_days", "Number of days for the theme submission period"),
				daysOption("theme_voting_days", "Number of days for the theme voting period"),
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Dedicated channel for Music League messages",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "reminder_role",
					Description: "Role mentioned in deadline reminders",
				},
			},
		},
	}
}

// eventFor translates a slash command into an inbound event. Guild
// permissions are checked here as well as through the command defaults,
// since server admins can override the defaults.
func eventFor(i *discordgo.Interaction) (inbound.Event, error) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return inbound.Event{}, fmt.Errorf("interaction type %v: %w", i.Type, league.ErrValidation)
	}
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return inbound.Event{}, fmt.Errorf("command outside a guild: %w", league.ErrValidation)
	}
	data := i.ApplicationCommandData()
	opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, o := range data.Options {
		opts[o.Name] = o
	}
	str := func(name string) string {
		if o, ok := opts[name]; ok {
			return o.StringValue()
		}
		return ""
	}
	ev := inbound.Event{Kind: inbound.Kind(data.Name), GuildID: i.GuildID, UserID: i.Member.User.ID}
	perms := i.Member.Permissions

	switch ev.Kind {
	case inbound.KindStart:
		ev.Theme = str("theme")
	case inbound.KindSubmit:
		ev.Content = str("song")
		ev.Description = str("description")
	case inbound.KindSubmitTheme:
		ev.Theme = str("theme")
		ev.Description = str("description")
	case inbound.KindStatus:
	case inbound.KindLeaderboard:
		if o, ok := opts["limit"]; ok {
			ev.Limit = int(o.IntValue())
		}
	case inbound.KindEndSubmission, inbound.KindEndVoting:
		if !hasPermission(perms, discordgo.PermissionAdministrator) {
			return ev, errForbidden
		}
	case inbound.KindSettings:
		if !hasPermission(perms, discordgo.PermissionManageGuild) {
			return ev, errForbidden
		}
		change := &inbound.SettingsChange{}
		intOpt := func(name string) *int {
			o, ok := opts[name]
			if !ok {
				return nil
			}
			v := int(o.IntValue())
			return &v
		}
		change.SubmissionDays = intOpt("submission_days")
		change.VotingDays = intOpt("voting_days")
		change.ThemeSubmissionDays = intOpt("theme_submission_days")
		change.ThemeVotingDays = intOpt("theme_voting_days")
		if o, ok := opts["channel"]; ok {
			id := o.ChannelValue(nil).ID
			change.ChannelID = &id
		}
		if o, ok := opts["reminder_role"]; ok {
			id := o.RoleValue(nil, "").ID
			change.ReminderRoleID = &id
		}
		ev.Settings = change
	default:
		return inbound.Event{}, fmt.Errorf("unknown command %q: %w", data.Name, league.ErrValidation)
	}
	return ev, nil
}

func hasPermission(perms, want int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&want == want
}

func ephemeral(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Content:         content,
		Flags:           discordgo.MessageFlagsEphemeral,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

func public(embed *discordgo.MessageEmbed) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

// replyFor builds the interaction response for a handled event.
func replyFor(ev inbound.Event, res inbound.Result, err error) *discordgo.InteractionResponseData {
	if err != nil {
		return errorReply(ev, err)
	}
	switch ev.Kind {
	case inbound.KindStart:
		return ephemeral(fmt.Sprintf("Round #%d started! Submissions close %s.", res.Round.Number, relative(res.Round.SubmissionEnd)))
	case inbound.KindSubmit:
		if res.Created {
			return ephemeral("Your submission has been recorded! Thank you for participating.")
		}
		return ephemeral("Your submission has been updated.")
	case inbound.KindSubmitTheme:
		if res.Created {
			return ephemeral(fmt.Sprintf("Your theme %q has been recorded!", res.Proposal.Theme))
		}
		return ephemeral(fmt.Sprintf("Your theme proposal is now %q.", res.Proposal.Theme))
	case inbound.KindEndSubmission:
		return ephemeral(fmt.Sprintf("Submission period ended! The voting phase will begin shortly and will end %s.", relative(res.Round.VotingEnd)))
	case inbound.KindEndVoting:
		return ephemeral("Voting period ended! Results will be posted shortly.")
	case inbound.KindStatus:
		return public(statusEmbed(res.Status))
	case inbound.KindLeaderboard:
		if len(res.Leaderboard) == 0 {
			return &discordgo.InteractionResponseData{Content: "No players in the leaderboard yet!"}
		}
		return public(leaderboardEmbed(res.Leaderboard))
	case inbound.KindSettings:
		return public(settingsEmbed(res.Guild.Settings))
	}
	return ephemeral("Done.")
}

func errorReply(ev inbound.Event, err error) *discordgo.InteractionResponseData {
	if errors.Is(err, errForbidden) {
		need := "Administrator"
		if ev.Kind == inbound.KindSettings {
			need = "Manage Server"
		}
		return ephemeral(fmt.Sprintf("You need '%s' permission to use this command.", need))
	}
	if rejection, ok := league.AsRejection(err); ok {
		if ev.Kind == inbound.KindStatus && errors.Is(err, league.ErrNotFound) {
			return public(&discordgo.MessageEmbed{
				Title:       "Music League Status",
				Description: capitalize(rejection.Reason) + ". " + capitalize(rejection.Next) + "!",
				Color:       colorBlue,
			})
		}
		msg := capitalize(rejection.Reason) + "."
		if rejection.Next != "" {
			msg += " " + capitalize(rejection.Next) + "."
		}
		return ephemeral(msg)
	}
	if errors.Is(err, league.ErrValidation) {
		return ephemeral("That command could not be handled here.")
	}
	return ephemeral("Something went wrong, please try again later.")
}

func statusEmbed(s league.Status) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Music League Round #%d Status", s.Round.Number),
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Theme", Value: s.Round.Theme},
		},
	}
	switch s.Stage {
	case league.StageSubmission:
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Status", Value: "Submission Phase - Submit your music with `/submit`"},
			&discordgo.MessageEmbedField{Name: "Submission Deadline", Value: deadline(s.Deadline)},
			&discordgo.MessageEmbedField{Name: "Submissions", Value: fmt.Sprintf("%d submission(s) so far", s.Entries)},
		)
	case league.StageVoting:
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Status", Value: "Voting Phase - Cast your votes!"},
			&discordgo.MessageEmbedField{Name: "Voting Deadline", Value: deadline(s.Deadline)},
			&discordgo.MessageEmbedField{Name: "Submissions", Value: fmt.Sprintf("%d submission(s) in this round", s.Entries)},
		)
	default:
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Status", Value: "Voting has ended - Results will be calculated soon!"},
		)
	}
	return embed
}

func leaderboardEmbed(players []league.Participant) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "🏆 Music League Leaderboard 🏆", Color: colorGold}
	for i, p := range players {
		medal := ""
		if i < len(medals) {
			medal = medals[i]
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s#%d", medal, i+1),
			Value: fmt.Sprintf("%s - %s", mention(p.UserID), plural(p.TotalScore, "point")),
		})
	}
	return embed
}

func settingsEmbed(s league.Settings) *discordgo.MessageEmbed {
	inDays := func(label string, d time.Duration) *discordgo.MessageEmbedField {
		return &discordgo.MessageEmbedField{Name: label, Value: plural(int(d/(24*time.Hour)), "day"), Inline: true}
	}
	channel := "None (bot will use any available channel)"
	if s.ChannelID != "" {
		channel = "<#" + s.ChannelID + ">"
	}
	role := "None"
	if s.ReminderRoleID != "" {
		role = "<@&" + s.ReminderRoleID + ">"
	}
	return &discordgo.MessageEmbed{
		Title: "Music League Settings",
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			inDays("Submission Period", s.SubmissionWindow),
			inDays("Voting Period", s.VotingWindow),
			inDays("Theme Submission Period", s.ThemeSubmissionWindow),
			inDays("Theme Voting Period", s.ThemeVotingWindow),
			{Name: "Dedicated Channel", Value: channel},
			{Name: "Reminder Role", Value: role},
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
