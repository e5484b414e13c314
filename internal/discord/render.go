package discord

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/bwmarrin/discordgo"
)

const (
	messageLimit = 2000

	colorBlue   = 0x3498db
	colorOrange = 0xe67e22
	colorGold   = 0xf1c40f
)

var medals = []string{"🥇 ", "🥈 ", "🥉 "}

// Render turns a notice into one or more messages. The first message is the
// one markers are attached to and whose id is recorded.
func Render(n league.Notice) []*discordgo.MessageSend {
	switch n.Kind {
	case league.NoticeRoundStarted:
		return []*discordgo.MessageSend{embedMessage(roundStartedEmbed(n.Round))}
	case league.NoticeVotingOpened:
		return textMessages(votingBlocks(n))
	case league.NoticeNoSubmissions:
		return textMessages([]string{fmt.Sprintf("# Round #%d: %s\n\nThe round has ended with no submissions!", n.Round.Number, n.Round.Theme)})
	case league.NoticeResults:
		return textMessages(resultBlocks(n))
	case league.NoticeReminder:
		return []*discordgo.MessageSend{reminderMessage(n)}
	case league.NoticeThemeSubmissionOpened:
		return textMessages([]string{fmt.Sprintf(
			"# 💡 Pick the next theme\n\nPropose a theme for the next round with `/submit_theme`.\nTheme submissions close %s.",
			relative(n.Deadline),
		)})
	case league.NoticeThemeVotingOpened:
		return textMessages(themeVotingBlocks(n))
	case league.NoticeThemeResult:
		return textMessages(themeResultBlocks(n))
	default:
		return textMessages([]string{string(n.Kind)})
	}
}

func roundStartedEmbed(r league.Round) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🎵 Music League Round #%d Started!", r.Number),
		Description: "Submit your music with `/submit` before the deadline.",
		Color:       colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Theme", Value: r.Theme},
			{Name: "Submission Deadline", Value: deadline(r.SubmissionEnd)},
			{Name: "Voting Deadline", Value: deadline(r.VotingEnd)},
		},
	}
}

func votingBlocks(n league.Notice) []string {
	var header strings.Builder
	fmt.Fprintf(&header, "# 🎵 Voting for Round #%d 🎵\n\n", n.Round.Number)
	fmt.Fprintf(&header, "React with emojis to vote for your favorite submissions! You can vote for up to **%d submissions**.\n", n.VotesPerUser)
	fmt.Fprintf(&header, "Voting ends %s\n\n", relative(n.Deadline))
	fmt.Fprintf(&header, "**Theme**: %s\n", n.Round.Theme)
	if len(n.Excluded) > 0 {
		fmt.Fprintf(&header, "\n_%d late submissions could not get a voting emoji and are not part of this vote._\n", len(n.Excluded))
	}

	blocks := []string{header.String()}
	for i, e := range n.Entries {
		marker, _ := Marker(i)
		blocks = append(blocks, entryBlock(fmt.Sprintf("%s **Submission #%d**", marker, i+1), e))
	}
	return blocks
}

func entryBlock(title string, e league.Entry) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(e.Content)
	b.WriteString("\n")
	if e.Description != "" {
		fmt.Fprintf(&b, "*%s*\n", e.Description)
	}
	return b.String()
}

func resultBlocks(n league.Notice) []string {
	header := fmt.Sprintf("# 🏆 Results for Round #%d 🏆\n\n**Theme**: %s\n\nThe round has ended! Here are the results:\n",
		n.Round.Number, n.Round.Theme)
	blocks := []string{header}
	for pos, r := range n.Results {
		medal := ""
		if pos < len(medals) && r.Score > 0 {
			medal = medals[pos]
		}
		marker := ""
		if m, ok := Marker(r.Index); ok && !r.Item.Excluded {
			marker = m + " "
		}
		title := fmt.Sprintf("### %s%s#%d: %s - %s", medal, marker, r.Index+1, mention(r.Item.UserID), plural(r.Score, "vote"))
		if r.Item.Excluded {
			title += " _(not in the vote)_"
		}
		blocks = append(blocks, entryBlock(title, r.Item))
	}
	blocks = append(blocks, leaderboardBlock(n.Standings))
	return blocks
}

func leaderboardBlock(standings []league.Participant) string {
	var b strings.Builder
	b.WriteString("## 📊 Current Leaderboard\n\n")
	if len(standings) == 0 {
		b.WriteString("No players yet!\n")
		return b.String()
	}
	for i, p := range standings {
		fmt.Fprintf(&b, "#%d: %s - %s\n", i+1, mention(p.UserID), plural(p.TotalScore, "point"))
	}
	return b.String()
}

func reminderMessage(n league.Notice) *discordgo.MessageSend {
	what, how := "submit your music", "Use `/submit` to add your music to this round!"
	title := fmt.Sprintf("⏰ Submission Reminder - Round #%d", n.Round.Number)
	if n.Phase == league.PhaseVoting {
		what, how = "vote", "React with emojis on the voting message to cast your votes!"
		title = fmt.Sprintf("⏰ Voting Reminder - Round #%d", n.Round.Number)
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("Don't forget to %s! You have approximately **24 hours** left.", what),
		Color:       colorOrange,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Theme", Value: n.Round.Theme},
			{Name: "Deadline", Value: deadline(n.Deadline)},
			{Name: "How", Value: how},
		},
	}
	msg := embedMessage(embed)
	if n.Role.ID != "" {
		msg.Content = "<@&" + n.Role.ID + ">"
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{n.Role.ID}}
	}
	return msg
}

func themeVotingBlocks(n league.Notice) []string {
	header := fmt.Sprintf("# 🗳️ Vote for the next theme\n\nReact to pick the theme for the round after #%d. Voting ends %s.\n",
		n.Round.Number, relative(n.Deadline))
	blocks := []string{header}
	for i, p := range n.Proposals {
		marker, _ := Marker(i)
		block := fmt.Sprintf("%s **%s**\n", marker, p.Theme)
		if p.Description != "" {
			block += fmt.Sprintf("*%s*\n", p.Description)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func themeResultBlocks(n league.Notice) []string {
	if n.Round.WinningTheme == "" {
		return []string{"No theme was chosen for the next round. Start one with `/start` and any theme you like."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# 🎉 Next theme: %s\n\nStart the next round with `/start theme:%s`.\n", n.Round.WinningTheme, n.Round.WinningTheme)
	for i, r := range n.ThemeResults {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, r.Item.Theme, plural(r.Score, "vote"))
	}
	return []string{b.String()}
}

func embedMessage(embed *discordgo.MessageEmbed) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

// textMessages packs blocks into as few messages as fit the platform limit.
// The first block always starts the first message.
func textMessages(blocks []string) []*discordgo.MessageSend {
	chunks := chunk(blocks, messageLimit)
	out := make([]*discordgo.MessageSend, len(chunks))
	for i, c := range chunks {
		out[i] = &discordgo.MessageSend{
			Content:         c,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}
	}
	return out
}

func chunk(blocks []string, limit int) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for _, block := range blocks {
		for utf8.RuneCountInString(block) > limit {
			flush()
			head, rest := splitRunes(block, limit)
			out = append(out, head)
			block = rest
		}
		sep := ""
		if current.Len() > 0 {
			sep = "\n"
		}
		if utf8.RuneCountInString(current.String())+len([]rune(sep+block)) > limit {
			flush()
			sep = ""
		}
		current.WriteString(sep)
		current.WriteString(block)
	}
	flush()
	return out
}

func splitRunes(s string, n int) (string, string) {
	runes := []rune(s)
	return string(runes[:n]), string(runes[n:])
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func relative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func deadline(t time.Time) string {
	return fmt.Sprintf("<t:%d:F> (<t:%d:R>)", t.Unix(), t.Unix())
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
