package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
)

// client talks to the bot's ops HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status int
	Msg    string `json:"error"`
	Next   string `json:"next"`
}

func (e *apiError) Error() string {
	if e.Next != "" {
		return fmt.Sprintf("%s (%d); %s", e.Msg, e.Status, e.Next)
	}
	return fmt.Sprintf("%s (%d)", e.Msg, e.Status)
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, dest any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *client) status(ctx context.Context, guildID string) (league.Status, error) {
	var status league.Status
	err := c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/status", nil, &status)
	return status, err
}

func (c *client) leaderboard(ctx context.Context, guildID string, limit int) ([]league.Participant, error) {
	var body struct {
		Players []league.Participant `json:"players"`
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	err := c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/leaderboard", query, &body)
	return body.Players, err
}

type roundsPage struct {
	Rounds         []league.Round `json:"rounds"`
	SuggestedTheme string         `json:"suggested_theme"`
	Pagination     struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
		Total      int `json:"total"`
	} `json:"pagination"`
}

func (c *client) rounds(ctx context.Context, guildID string, page int) (roundsPage, error) {
	var body roundsPage
	query := url.Values{"page": {fmt.Sprint(page)}}
	err := c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/rounds", query, &body)
	return body, err
}

func (c *client) results(ctx context.Context, roundID uint) ([]league.Ranked[league.Entry], error) {
	var body struct {
		Results []league.Ranked[league.Entry] `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rounds/%d/results", roundID), nil, &body)
	return body.Results, err
}

type sweepReport struct {
	Guilds      int    `json:"guilds"`
	ThemeCycles int    `json:"theme_cycles"`
	Failures    int    `json:"failures"`
	Error       string `json:"error"`
	DurationMS  int64  `json:"duration_ms"`
}

func (c *client) sweep(ctx context.Context) (sweepReport, error) {
	var report sweepReport
	err := c.do(ctx, http.MethodPost, "/api/admin/sweep", nil, &report)
	return report, err
}
