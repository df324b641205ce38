// Package chat is a thin client for the Mattermost REST API (v4). Only the
// handful of endpoints the reminder and summary handlers need are wrapped:
// channels, posts, threads, reactions, users, groups, and file upload.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNotFound is returned for 404 responses so callers can treat deleted
// posts and unknown users as a benign condition rather than a failure.
var ErrNotFound = fmt.Errorf("chat: not found")

// Client issues authenticated calls against a Mattermost server.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger

	// usernames memoizes user id → username for the process lifetime.
	// Usernames are treated as immutable for our purposes, so entries are
	// never invalidated.
	usernames *UserCache
}

// UserCache is the injected username memo cache.
type UserCache struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewUserCache returns an empty cache.
func NewUserCache() *UserCache {
	return &UserCache{m: make(map[string]string)}
}

func (c *UserCache) get(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.m[id]
	return name, ok
}

func (c *UserCache) put(id, name string) {
	c.mu.Lock()
	c.m[id] = name
	c.mu.Unlock()
}

// NewClient creates a Mattermost client. The cache is constructor-injected so
// tests and callers control its lifetime; pass nil for a fresh one.
func NewClient(baseURL, token string, cache *UserCache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewUserCache()
	}
	return &Client{
		baseURL:   baseURL,
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.With("component", "chat"),
		usernames: cache,
	}
}

// BaseURL returns the server base URL (used to build permalinks).
func (c *Client) BaseURL() string { return c.baseURL }

// ---------- API Types ----------

type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type Channel struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Type        string `json:"type"` // "O" open, "P" private, "D" direct
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Header      string `json:"header"`
	Purpose     string `json:"purpose"`
	LastPostAt  int64  `json:"last_post_at"` // unix millis
	DeleteAt    int64  `json:"delete_at"`
}

type Post struct {
	ID        string   `json:"id"`
	CreateAt  int64    `json:"create_at"` // unix millis
	DeleteAt  int64    `json:"delete_at"`
	ChannelID string   `json:"channel_id"`
	UserID    string   `json:"user_id"`
	RootID    string   `json:"root_id"`
	Message   string   `json:"message"`
	Type      string   `json:"type"` // "" for regular user posts
	FileIDs   []string `json:"file_ids,omitempty"`
}

// PostList mirrors Mattermost's post collection envelope: an ordered list of
// ids plus an id-keyed map.
type PostList struct {
	Order []string        `json:"order"`
	Posts map[string]Post `json:"posts"`
}

// Ordered returns the posts oldest first.
func (pl *PostList) Ordered() []Post {
	out := make([]Post, 0, len(pl.Order))
	for i := len(pl.Order) - 1; i >= 0; i-- {
		if p, ok := pl.Posts[pl.Order[i]]; ok {
			out = append(out, p)
		}
	}
	return out
}

type Reaction struct {
	UserID    string `json:"user_id"`
	PostID    string `json:"post_id"`
	EmojiName string `json:"emoji_name"`
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DeleteAt  int64  `json:"delete_at"`
}

type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// ---------- Teams & Channels ----------

// GetTeam fetches a team (used once per summary run for permalink slugs).
func (c *Client) GetTeam(ctx context.Context, teamID string) (*Team, error) {
	var team Team
	if err := c.get(ctx, "/teams/"+teamID, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// GetChannelsForTeam lists the team's public channels, paging until exhausted.
func (c *Client) GetChannelsForTeam(ctx context.Context, teamID string) ([]Channel, error) {
	const perPage = 200
	var all []Channel
	for page := 0; ; page++ {
		var batch []Channel
		path := fmt.Sprintf("/teams/%s/channels?page=%d&per_page=%d", teamID, page, perPage)
		if err := c.get(ctx, path, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// GetPostsSince fetches a channel's posts created after the given unix-milli
// timestamp. Mattermost caps the response; one page is the documented limit
// for the since filter.
func (c *Client) GetPostsSince(ctx context.Context, channelID string, sinceMillis int64) (*PostList, error) {
	var pl PostList
	path := fmt.Sprintf("/channels/%s/posts?since=%d", channelID, sinceMillis)
	if err := c.get(ctx, path, &pl); err != nil {
		return nil, err
	}
	return &pl, nil
}

// ---------- Posts ----------

// GetPost fetches a single post. Returns ErrNotFound for deleted/unknown ids.
func (c *Client) GetPost(ctx context.Context, postID string) (*Post, error) {
	var p Post
	if err := c.get(ctx, "/posts/"+postID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetThread fetches the thread containing the given post (root and replies).
func (c *Client) GetThread(ctx context.Context, postID string) (*PostList, error) {
	var pl PostList
	if err := c.get(ctx, "/posts/"+postID+"/thread", &pl); err != nil {
		return nil, err
	}
	return &pl, nil
}

// GetReactions fetches the reactions on a post. A post with no reactions
// yields an empty slice.
func (c *Client) GetReactions(ctx context.Context, postID string) ([]Reaction, error) {
	var reactions []Reaction
	if err := c.get(ctx, "/posts/"+postID+"/reactions", &reactions); err != nil {
		return nil, err
	}
	return reactions, nil
}

// CreatePost creates a post. rootID may be empty (root post) or a thread root
// id (threaded reply). fileIDs attaches previously uploaded files.
func (c *Client) CreatePost(ctx context.Context, channelID, message, rootID string, fileIDs []string) (*Post, error) {
	payload := map[string]any{
		"channel_id": channelID,
		"message":    message,
	}
	if rootID != "" {
		payload["root_id"] = rootID
	}
	if len(fileIDs) > 0 {
		payload["file_ids"] = fileIDs
	}

	var p Post
	if err := c.do(ctx, http.MethodPost, "/posts", payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePost replaces a post's message.
func (c *Client) UpdatePost(ctx context.Context, postID, message string) (*Post, error) {
	payload := map[string]any{
		"id":      postID,
		"message": message,
	}
	var p Post
	if err := c.do(ctx, http.MethodPut, "/posts/"+postID, payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------- Users & Groups ----------

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/"+userID, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by username. ErrNotFound when absent.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/username/"+url.PathEscape(username), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUsersByIDs batch-fetches users.
func (c *Client) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	if err := c.do(ctx, http.MethodPost, "/users/ids", ids, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetGroupByName resolves a group by its exact name. ErrNotFound when no
// group matches.
func (c *Client) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	var groups []Group
	path := "/groups?q=" + url.QueryEscape(name) + "&filter_allow_reference=true"
	if err := c.get(ctx, path, &groups); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Name == name {
			return &g, nil
		}
	}
	return nil, ErrNotFound
}

// GetGroupMemberIDs lists the member user ids of a group, paging as needed.
func (c *Client) GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	const perPage = 200
	var ids []string
	for page := 0; ; page++ {
		var result struct {
			Members []User `json:"members"`
		}
		path := fmt.Sprintf("/groups/%s/members?page=%d&per_page=%d", groupID, page, perPage)
		if err := c.get(ctx, path, &result); err != nil {
			return nil, err
		}
		for _, m := range result.Members {
			ids = append(ids, m.ID)
		}
		if len(result.Members) < perPage {
			return ids, nil
		}
	}
}

// Username resolves a user id to a username through the memo cache. Lookup
// failures fall back to the raw id so transcripts never lose attribution.
func (c *Client) Username(ctx context.Context, userID string) string {
	if name, ok := c.usernames.get(userID); ok {
		return name
	}
	u, err := c.GetUser(ctx, userID)
	if err != nil {
		c.logger.Warn("username lookup failed", "user_id", userID, "error", err)
		return userID
	}
	c.usernames.put(userID, u.Username)
	return u.Username
}

// ---------- Files ----------

// UploadFile uploads data to a channel and returns the file id for attaching
// to a post.
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("channel_id", channelID)
	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("chat: creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("chat: writing file data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v4/files", &buf)
	if err != nil {
		return "", fmt.Errorf("chat: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat: upload returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		FileInfos []struct {
			ID string `json:"id"`
		} `json:"file_infos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("chat: decoding upload response: %w", err)
	}
	if len(result.FileInfos) == 0 {
		return "", fmt.Errorf("chat: upload returned no file infos")
	}
	return result.FileInfos[0].ID, nil
}

// ---------- HTTP plumbing ----------

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do issues a request against /api/v4 and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("chat: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v4"+path, body)
	if err != nil {
		return fmt.Errorf("chat: creating request for %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chat: %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat: decoding %s response: %w", path, err)
	}
	return nil
}
