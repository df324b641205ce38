package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mentorbot/ai"
	"mentorbot/chat"
)

// fakeLLM stubs the completions endpoint and records what it was asked.
type fakeLLM struct {
	calls  int
	inputs []string
	reply  string
}

func (f *fakeLLM) client(t *testing.T) *ai.LLMClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ai.ResponsesRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.calls++
		f.inputs = append(f.inputs, req.Instructions+"\n"+req.Input)
		json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{{
				"type": "message",
				"role": "assistant",
				"content": []map[string]string{
					{"type": "output_text", "text": f.reply},
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	c := ai.NewLLMClient("test-key", "")
	c.SetBaseURL(srv.URL)
	return c
}

// fakeVoice returns fixed WAV-ish bytes without any network.
type fakeVoice struct {
	calls   int
	scripts []string
}

func (f *fakeVoice) Synthesize(ctx context.Context, script, lang string) (*ai.VoiceResult, error) {
	f.calls++
	f.scripts = append(f.scripts, script)
	return &ai.VoiceResult{Audio: []byte("RIFFfakewav"), MimeType: "audio/wav"}, nil
}

func newSummaryEnv(t *testing.T) (*testEnv, *fakeLLM, *fakeVoice, *SummaryHandler) {
	t.Helper()
	env := newTestEnv(t)
	llm := &fakeLLM{reply: "The digest."}
	voice := &fakeVoice{}
	audio := NewAudioHandler(env.cfg, nil)
	h := NewSummaryHandler(env.chat, llm.client(t), nil, map[string]ai.VoiceProvider{"narrator": voice}, audio, env.cfg, nil)
	h.Now = func() time.Time { return fixedNow }
	return env, llm, voice, h
}

// summaryZone matches the test config's fixed offset.
var summaryZone = time.FixedZone("", 9*3600)

// yesterdayAt returns a unix-milli timestamp inside the default window.
func yesterdayAt(hour int) int64 {
	return time.Date(2025, 3, 9, hour, 0, 0, 0, summaryZone).UnixMilli()
}

func addActiveChannel(env *testEnv, id, name string) chat.Channel {
	ch := chat.Channel{ID: id, TeamID: "t1", Type: "O", Name: name, DisplayName: name, LastPostAt: yesterdayAt(12)}
	env.fake.channels = append(env.fake.channels, ch)
	return ch
}

func TestSummaryWindow(t *testing.T) {
	_, _, _, h := newSummaryEnv(t)

	start, end := h.window(false)
	if start.Format("2006-01-02 15:04") != "2025-03-09 00:00" {
		t.Errorf("yesterday window start = %s", start)
	}
	if end.Format("2006-01-02 15:04") != "2025-03-10 00:00" {
		t.Errorf("yesterday window end = %s", end)
	}

	start, end = h.window(true)
	if start.Format("2006-01-02 15:04") != "2025-03-10 00:00" {
		t.Errorf("today window start = %s", start)
	}
	if !end.Equal(fixedNow) {
		t.Errorf("today window end = %s, want now", end)
	}
}

func TestSummaryNoUpdatesSkipsLLM(t *testing.T) {
	env, llm, _, h := newSummaryEnv(t)

	result, err := h.Run(context.Background(), SummaryOptions{Kind: "text"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 0 {
		t.Fatalf("quiet day must not call the LLM, got %d calls", llm.calls)
	}
	if len(env.fake.created) != 1 {
		t.Fatalf("expected exactly one notice post, got %d", len(env.fake.created))
	}
	notice := env.fake.created[0]
	if notice.ChannelID != "summary" {
		t.Errorf("notice went to %q", notice.ChannelID)
	}
	if !strings.Contains(notice.Message, "2025-03-09") {
		t.Errorf("notice should name the date: %q", notice.Message)
	}
	if !result.Posted || result.Posts != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestSummaryTextPostsDigest(t *testing.T) {
	env, llm, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")
	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "shipped the thing", CreateAt: yesterdayAt(12)})

	result, err := h.Run(context.Background(), SummaryOptions{Kind: "text"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", llm.calls)
	}
	if !strings.Contains(llm.inputs[0], "alice: shipped the thing") {
		t.Fatalf("transcript missing from prompt: %s", llm.inputs[0])
	}
	if result.Posts != 1 || result.Channels != 1 {
		t.Fatalf("result = %+v", result)
	}

	if len(env.fake.created) != 1 {
		t.Fatalf("expected 1 summary post, got %d", len(env.fake.created))
	}
	if env.fake.created[0].Message != "The digest." {
		t.Fatalf("posted %q", env.fake.created[0].Message)
	}
}

func TestSummaryExcludesOutOfWindowAndSystemPosts(t *testing.T) {
	env, _, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")

	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "in window", CreateAt: yesterdayAt(12)})
	// Today, outside the default window.
	env.fake.addPost(chat.Post{ID: "m2", ChannelID: "ch1", UserID: "u1", Message: "too new", CreateAt: fixedNow.UnixMilli()})
	// Join/leave noise carries a system type.
	env.fake.addPost(chat.Post{ID: "m3", ChannelID: "ch1", UserID: "u1", Message: "alice joined", Type: "system_join_channel", CreateAt: yesterdayAt(13)})

	start, end := h.window(false)
	transcript, _, posts, err := h.buildTranscript(context.Background(), h.logger, start, end)
	if err != nil {
		t.Fatalf("buildTranscript: %v", err)
	}
	if posts != 1 {
		t.Fatalf("posts = %d, want 1\n%s", posts, transcript)
	}
	if strings.Contains(transcript, "too new") || strings.Contains(transcript, "joined") {
		t.Fatalf("transcript leaked excluded posts:\n%s", transcript)
	}
}

func TestSummarySkipsRestrictedAndMutedChannels(t *testing.T) {
	env, _, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")

	addActiveChannel(env, "ch1", "general")
	addActiveChannel(env, "ch2", "hiring")
	env.fake.channels[1].Purpose = "🔒 candidates only"
	addActiveChannel(env, "ch3", "random 🔕")
	// The summary channel itself is never an input.
	env.fake.channels = append(env.fake.channels, chat.Channel{ID: "summary", TeamID: "t1", Type: "O", Name: "daily-summary", DisplayName: "daily-summary", LastPostAt: yesterdayAt(12)})

	for i, ch := range []string{"ch1", "ch2", "ch3", "summary"} {
		env.fake.addPost(chat.Post{ID: "m" + ch, ChannelID: ch, UserID: "u1", Message: "msg " + ch, CreateAt: yesterdayAt(10 + i%4)})
	}

	start, end := h.window(false)
	transcript, channels, _, err := h.buildTranscript(context.Background(), h.logger, start, end)
	if err != nil {
		t.Fatalf("buildTranscript: %v", err)
	}
	if channels != 1 {
		t.Fatalf("channels = %d, want only general\n%s", channels, transcript)
	}
	if strings.Contains(transcript, "msg ch2") || strings.Contains(transcript, "msg ch3") || strings.Contains(transcript, "msg summary") {
		t.Fatalf("restricted content leaked:\n%s", transcript)
	}
}

func TestSummarySkipsRestrictedThreads(t *testing.T) {
	env, _, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")

	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "🔒 salary thread", CreateAt: yesterdayAt(10)})
	env.fake.addPost(chat.Post{ID: "m2", ChannelID: "ch1", UserID: "u1", RootID: "m1", Message: "the numbers", CreateAt: yesterdayAt(11)})
	env.fake.addPost(chat.Post{ID: "m3", ChannelID: "ch1", UserID: "u1", Message: "lunch anyone", CreateAt: yesterdayAt(12)})

	start, end := h.window(false)
	transcript, _, posts, err := h.buildTranscript(context.Background(), h.logger, start, end)
	if err != nil {
		t.Fatalf("buildTranscript: %v", err)
	}
	if posts != 1 {
		t.Fatalf("posts = %d, want 1\n%s", posts, transcript)
	}
	if strings.Contains(transcript, "salary") || strings.Contains(transcript, "numbers") {
		t.Fatalf("restricted thread leaked:\n%s", transcript)
	}
	if !strings.Contains(transcript, "lunch anyone") {
		t.Fatalf("ordinary post missing:\n%s", transcript)
	}
}

func TestSummaryDebugReturnsWithoutPosting(t *testing.T) {
	env, llm, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")
	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "hello", CreateAt: yesterdayAt(12)})

	result, err := h.Run(context.Background(), SummaryOptions{Kind: "text", Debug: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 1 {
		t.Fatalf("debug still generates content, llm calls = %d", llm.calls)
	}
	if result.Posted || len(env.fake.created) != 0 {
		t.Fatalf("debug must not post: %+v, %d posts", result, len(env.fake.created))
	}
	if result.Content != "The digest." {
		t.Fatalf("content = %q", result.Content)
	}
	if len(result.Logs) == 0 {
		t.Fatal("debug result carries no logs")
	}
}

func TestSummaryAudioNarrator(t *testing.T) {
	env, llm, voice, h := newSummaryEnv(t)
	llm.reply = "Good morning. Yesterday the team shipped the thing."
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")
	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "shipped", CreateAt: yesterdayAt(12)})

	result, err := h.Run(context.Background(), SummaryOptions{Kind: "audio", Engine: "narrator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if voice.calls != 1 || voice.scripts[0] != llm.reply {
		t.Fatalf("voice calls = %d, scripts = %v", voice.calls, voice.scripts)
	}
	if !strings.HasPrefix(result.AudioURL, "/api/audio/") {
		t.Fatalf("audio url = %q", result.AudioURL)
	}

	// The synthesized file landed on disk under the audio dir.
	saved := filepath.Join(env.cfg.AudioDir, strings.TrimPrefix(result.AudioURL, "/api/audio/"))
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatalf("reading saved audio: %v", err)
	}
	if string(data) != "RIFFfakewav" {
		t.Fatalf("saved audio = %q", data)
	}

	if len(env.fake.created) != 1 || !strings.Contains(env.fake.created[0].Message, result.AudioURL) {
		t.Fatalf("announcement wrong: %+v", env.fake.created)
	}
}

func TestSummaryUnknownEngine(t *testing.T) {
	env, _, _, h := newSummaryEnv(t)
	env.fake.addUser("u1", "alice")
	addActiveChannel(env, "ch1", "general")
	env.fake.addPost(chat.Post{ID: "m1", ChannelID: "ch1", UserID: "u1", Message: "hello", CreateAt: yesterdayAt(12)})

	if _, err := h.Run(context.Background(), SummaryOptions{Kind: "audio", Engine: "kazoo"}); err == nil {
		t.Fatal("expected an error for an unknown engine")
	}
}
