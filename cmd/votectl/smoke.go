package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/ids"
)

type smokeClient struct {
	base   string
	http   *http.Client
	tokens *identity.Tokens
}

func runSmoke(args []string) error {
	fs := flag.NewFlagSet("smoke", flag.ContinueOnError)
	addr := fs.String("addr", envOr("CAMPUSVOTE_API_ADDR", "http://localhost:8080"), "API base URL")
	secret := fs.String("secret", envOr("CAMPUSVOTE_AUTH_SECRET", ""), "HS256 signing secret shared with the API")
	issuer := fs.String("issuer", envOr("CAMPUSVOTE_AUTH_ISSUER", "campusvote"), "token issuer")
	voters := fs.Int("voters", 5, "students casting a vote")
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tokens, err := identity.NewTokens(*secret, *issuer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := &smokeClient{base: strings.TrimRight(*addr, "/"), http: &http.Client{Timeout: 10 * time.Second}, tokens: tokens}
	return c.run(ctx, *voters)
}

func (c *smokeClient) run(ctx context.Context, voters int) error {
	if voters < 1 {
		return errors.New("voters must be at least 1")
	}
	admin := identity.Admin{UserID: "smoke-admin-" + ids.New()}
	section := "smoke-" + ids.New()

	var e election.Election
	err := c.call(ctx, admin, http.MethodPost, "/v1/elections", election.Spec{
		Title:     "Smoke test election",
		Section:   section,
		Year:      "1",
		StartTime: time.Now().UTC().Format(time.RFC3339),
		EndTime:   time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		Participants: []election.ParticipantSpec{
			{CandidateID: "smoke-a", Name: "Candidate A"},
			{CandidateID: "smoke-b", Name: "Candidate B"},
		},
	}, http.StatusCreated, &e)
	if err != nil {
		return fmt.Errorf("create election: %w", err)
	}
	color.Green("✓ created election %s", e.ID)

	first := e.Participants[0].ID
	for i := 0; i < voters; i++ {
		s := identity.Student{UserID: fmt.Sprintf("smoke-voter-%d-%s", i, ids.New()), Section: section, Year: "1"}
		if err := c.call(ctx, s, http.MethodPost, "/v1/elections/"+e.ID+"/votes",
			map[string]string{"participantId": first}, http.StatusCreated, nil); err != nil {
			return fmt.Errorf("vote %d: %w", i, err)
		}
		if i == 0 {
			err := c.call(ctx, s, http.MethodPost, "/v1/elections/"+e.ID+"/votes",
				map[string]string{"participantId": first}, http.StatusConflict, nil)
			if err != nil {
				return fmt.Errorf("duplicate vote was not rejected: %w", err)
			}
		}
	}
	color.Green("✓ cast %d vote(s), duplicate rejected", voters)

	if err := c.call(ctx, admin, http.MethodPost, "/v1/elections/"+e.ID+"/close", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("close election: %w", err)
	}

	var res election.Results
	if err := c.call(ctx, admin, http.MethodGet, "/v1/elections/"+e.ID+"/results", nil, http.StatusOK, &res); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	if res.TotalVotes != int64(voters) {
		return fmt.Errorf("expected %d votes, results show %d", voters, res.TotalVotes)
	}
	if res.Winner == nil || res.Winner.ParticipantID != first {
		return errors.New("unexpected winner")
	}
	color.Green("✓ results: %d vote(s), winner %s (%.1f%%)", res.TotalVotes, res.Winner.Name, res.Winner.Percentage)

	if err := c.call(ctx, admin, http.MethodDelete, "/v1/elections/"+e.ID, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete election: %w", err)
	}
	color.Green("✓ smoke test passed")
	return nil
}

func (c *smokeClient) call(ctx context.Context, who identity.Identity, method, path string, body any, want int, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tok, err := c.tokens.Issue(who, 5*time.Minute)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
