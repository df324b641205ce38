package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/store"
)

// fakeChat serves the slice of the Mattermost API the handlers touch.
type fakeChat struct {
	team      chat.Team
	channels  []chat.Channel
	users     map[string]chat.User // by id
	byName    map[string]chat.User // by username
	groups    map[string]chat.Group
	members   map[string][]chat.User // group id → members
	posts     map[string]chat.Post   // by id
	reactions map[string][]chat.Reaction

	created []chat.Post       // POST /posts, in order
	updated map[string]string // PUT /posts/{id} → new message
	uploads int
	nextID  int
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		team:      chat.Team{ID: "t1", Name: "mentoring"},
		users:     map[string]chat.User{},
		byName:    map[string]chat.User{},
		groups:    map[string]chat.Group{},
		members:   map[string][]chat.User{},
		posts:     map[string]chat.Post{},
		reactions: map[string][]chat.Reaction{},
		updated:   map[string]string{},
	}
}

func (f *fakeChat) addUser(id, username string) {
	u := chat.User{ID: id, Username: username}
	f.users[id] = u
	f.byName[username] = u
}

func (f *fakeChat) addPost(p chat.Post) {
	f.posts[p.ID] = p
}

// newPostID mints ids in the 26-char format the stop handler accepts.
func (f *fakeChat) newPostID() string {
	f.nextID++
	return fmt.Sprintf("fakepost%018d", f.nextID)
}

func (f *fakeChat) react(postID, userID, emoji string) {
	f.reactions[postID] = append(f.reactions[postID], chat.Reaction{
		UserID: userID, PostID: postID, EmojiName: emoji,
	})
}

// threadOf returns the stored posts sharing the given root, root included,
// newest first the way Mattermost orders them.
func (f *fakeChat) threadOf(rootID string) chat.PostList {
	pl := chat.PostList{Posts: map[string]chat.Post{}}
	for id, p := range f.posts {
		if id == rootID || p.RootID == rootID {
			pl.Posts[id] = p
			pl.Order = append([]string{id}, pl.Order...)
		}
	}
	return pl
}

func (f *fakeChat) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v4/teams/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.team)
	})
	mux.HandleFunc("GET /api/v4/teams/{id}/channels", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "0" && r.URL.Query().Get("page") != "" {
			json.NewEncoder(w).Encode([]chat.Channel{})
			return
		}
		json.NewEncoder(w).Encode(f.channels)
	})
	mux.HandleFunc("GET /api/v4/channels/{id}/posts", func(w http.ResponseWriter, r *http.Request) {
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		pl := chat.PostList{Posts: map[string]chat.Post{}}
		for id, p := range f.posts {
			if p.ChannelID == r.PathValue("id") && p.CreateAt >= since {
				pl.Posts[id] = p
				pl.Order = append([]string{id}, pl.Order...)
			}
		}
		json.NewEncoder(w).Encode(pl)
	})
	mux.HandleFunc("GET /api/v4/posts/{id}/thread", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := f.posts[r.PathValue("id")]; !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(f.threadOf(r.PathValue("id")))
	})
	mux.HandleFunc("GET /api/v4/posts/{id}/reactions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.reactions[r.PathValue("id")])
	})
	mux.HandleFunc("GET /api/v4/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.posts[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("POST /api/v4/posts", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChannelID string   `json:"channel_id"`
			Message   string   `json:"message"`
			RootID    string   `json:"root_id"`
			FileIDs   []string `json:"file_ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		p := chat.Post{
			ID:        f.newPostID(),
			ChannelID: body.ChannelID,
			Message:   body.Message,
			RootID:    body.RootID,
			FileIDs:   body.FileIDs,
		}
		f.posts[p.ID] = p
		f.created = append(f.created, p)
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("PUT /api/v4/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.updated[r.PathValue("id")] = body.Message
		p := f.posts[r.PathValue("id")]
		p.Message = body.Message
		f.posts[r.PathValue("id")] = p
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("GET /api/v4/users/username/{name}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := f.byName[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("POST /api/v4/users/ids", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		json.NewDecoder(r.Body).Decode(&ids)
		out := []chat.User{}
		for _, id := range ids {
			if u, ok := f.users[id]; ok {
				out = append(out, u)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /api/v4/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := f.users[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("GET /api/v4/groups", func(w http.ResponseWriter, r *http.Request) {
		var out []chat.Group
		for name, g := range f.groups {
			if name == r.URL.Query().Get("q") {
				out = append(out, g)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /api/v4/groups/{id}/members", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "0" && r.URL.Query().Get("page") != "" {
			json.NewEncoder(w).Encode(map[string]any{"members": []chat.User{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"members": f.members[r.PathValue("id")]})
	})
	mux.HandleFunc("POST /api/v4/files", func(w http.ResponseWriter, r *http.Request) {
		f.uploads++
		json.NewEncoder(w).Encode(map[string]any{
			"file_infos": []map[string]string{{"id": "file1"}},
		})
	})

	return mux
}

// testEnv bundles a fake chat server, a throwaway sqlite store, and a config
// pointed at both.
type testEnv struct {
	fake  *fakeChat
	chat  *chat.Client
	store *store.Store
	cfg   config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	f := newFakeChat()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Config{
		MattermostURL:    srv.URL,
		TeamID:           "t1",
		SummaryChannelID: "summary",
		MentorGroup:      "mentors",
		DoneEmoji:        "done",
		TZOffsetHours:    9,
		AudioDir:         t.TempDir(),
	}

	return &testEnv{
		fake:  f,
		chat:  chat.NewClient(srv.URL, "test-token", chat.NewUserCache(), nil),
		store: s,
		cfg:   cfg,
	}
}
