// Command leaguectl inspects a running bot through its ops API.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/config"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	clientFrom := func(c *cli.Context) *client {
		return newClient(c.String("addr"), c.String("token"))
	}
	guildArg := func(c *cli.Context) (string, error) {
		if c.NArg() != 1 {
			return "", errors.New("expected exactly one guild id")
		}
		return c.Args().First(), nil
	}

	return &cli.App{
		Name:   "leaguectl",
		Usage:  "inspect music league state",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "http://localhost:9090",
				Usage:   "ops API base URL",
				EnvVars: []string{"LEAGUECTL_ADDR"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "token for admin commands",
				EnvVars: []string{"OPS_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "show a guild's active round",
				ArgsUsage: "GUILD_ID",
				Action: func(c *cli.Context) error {
					guildID, err := guildArg(c)
					if err != nil {
						return err
					}
					status, err := clientFrom(c).status(c.Context, guildID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Round #%d: %s\n", status.Round.Number, status.Round.Theme)
					fmt.Fprintf(out, "Stage:    %s\n", status.Stage)
					fmt.Fprintf(out, "Entries:  %d\n", status.Entries)
					if !status.Deadline.IsZero() {
						fmt.Fprintf(out, "Deadline: %s\n", status.Deadline.Format(time.RFC1123))
					}
					fmt.Fprintf(out, "Next:     %s\n", status.Next)
					return nil
				},
			},
			{
				Name:      "leaderboard",
				Usage:     "show the top players",
				ArgsUsage: "GUILD_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 5, Usage: "players to show (1-25)"},
				},
				Action: func(c *cli.Context) error {
					guildID, err := guildArg(c)
					if err != nil {
						return err
					}
					players, err := clientFrom(c).leaderboard(c.Context, guildID, c.Int("limit"))
					if err != nil {
						return err
					}
					if len(players) == 0 {
						fmt.Fprintln(out, "No players yet.")
						return nil
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RANK\tUSER\tPOINTS")
					for i, p := range players {
						fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, p.UserID, p.TotalScore)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "rounds",
				Usage:     "list a guild's rounds",
				ArgsUsage: "GUILD_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: 1},
				},
				Action: func(c *cli.Context) error {
					guildID, err := guildArg(c)
					if err != nil {
						return err
					}
					page, err := clientFrom(c).rounds(c.Context, guildID, c.Int("page"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNUMBER\tPHASE\tTHEME\tVOTING ENDS")
					for _, r := range page.Rounds {
						fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.Number, r.Phase, r.Theme, r.VotingEnd.Format(time.DateTime))
					}
					if err := tw.Flush(); err != nil {
						return err
					}
					fmt.Fprintf(out, "page %d of %d (%d rounds)\n", page.Pagination.Page, page.Pagination.TotalPages, page.Pagination.Total)
					if page.SuggestedTheme != "" {
						fmt.Fprintf(out, "suggested next theme: %s\n", page.SuggestedTheme)
					}
					return nil
				},
			},
			{
				Name:      "results",
				Usage:     "show a completed round's ranking",
				ArgsUsage: "ROUND_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("expected exactly one round id")
					}
					id, err := strconv.ParseUint(c.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid round id: %w", err)
					}
					results, err := clientFrom(c).results(c.Context, uint(id))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "PLACE\tENTRY\tUSER\tVOTES\tCONTENT")
					for i, r := range results {
						fmt.Fprintf(tw, "%d\t#%d\t%s\t%d\t%s\n", i+1, r.Index+1, r.Item.UserID, r.Score, r.Item.Content)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "sweep",
				Usage: "run one scheduler pass now",
				Action: func(c *cli.Context) error {
					if c.String("token") == "" {
						return errors.New("sweep needs --token or OPS_TOKEN")
					}
					report, err := clientFrom(c).sweep(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "swept %d guilds and %d theme cycles in %dms, %d failures\n",
						report.Guilds, report.ThemeCycles, report.DurationMS, report.Failures)
					return nil
				},
			},
		},
	}
}
