package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9._-]+)`)

// ResolveMentions turns raw @mention tokens into a canonical username list.
// For each token (leading @ stripped): try an individual user first, then a
// named group expanded to its member usernames, and finally keep the literal
// token as a best-effort username. The result is deduplicated by username,
// preserving first-seen order.
func (c *Client) ResolveMentions(ctx context.Context, tokens []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, tok := range tokens {
		name := strings.TrimPrefix(strings.TrimSpace(tok), "@")
		if name == "" {
			continue
		}

		if u, err := c.GetUserByUsername(ctx, name); err == nil {
			add(u.Username)
			continue
		} else if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("user lookup failed, keeping literal", "token", name, "error", err)
			add(name)
			continue
		}

		if g, err := c.GetGroupByName(ctx, name); err == nil {
			ids, err := c.GetGroupMemberIDs(ctx, g.ID)
			if err != nil {
				c.logger.Warn("group expansion failed, keeping literal", "group", name, "error", err)
				add(name)
				continue
			}
			for _, id := range ids {
				add(c.Username(ctx, id))
			}
			continue
		}

		add(name)
	}
	return out
}

// ResolveUsernameIDs maps usernames to user ids. Usernames that do not
// resolve are returned separately; the evaluation handler always treats
// those as pending.
func (c *Client) ResolveUsernameIDs(ctx context.Context, usernames []string) (ids map[string]string, unknown []string) {
	ids = make(map[string]string, len(usernames))
	for _, name := range usernames {
		u, err := c.GetUserByUsername(ctx, name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		ids[name] = u.ID
		c.usernames.put(u.ID, u.Username)
	}
	return ids, unknown
}

// StripMentions removes @-mention syntax from message text, leaving the bare
// username so transcripts stay readable without pinging anyone downstream.
func StripMentions(text string) string {
	return mentionPattern.ReplaceAllString(text, "$1")
}
