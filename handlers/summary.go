package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"mentorbot/ai"
	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/logging"
	"mentorbot/prompts"
)

// Markers that opt content out of summaries. A channel whose purpose or
// header carries a restriction glyph is skipped entirely; threads whose root
// starts with one are dropped from the transcript. The mute marker in a
// channel's display name excludes the channel outright.
const (
	restrictedLock = "🔒"
	restrictedHide = "🙈"
	mutedChannel   = "🔕"
)

// SummaryHandler produces the daily channel digest: collect the day's posts
// across the team's open channels, render a transcript, and publish either an
// LLM text summary (optionally illustrated) or a synthesized audio recap.
type SummaryHandler struct {
	chat   *chat.Client
	llm    *ai.LLMClient
	image  *ai.ImageClient
	voices map[string]ai.VoiceProvider
	audio  *AudioHandler
	cfg    config.Config
	logger *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewSummaryHandler(c *chat.Client, llm *ai.LLMClient, image *ai.ImageClient, voices map[string]ai.VoiceProvider, audio *AudioHandler, cfg config.Config, logger *slog.Logger) *SummaryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryHandler{
		chat:   c,
		llm:    llm,
		image:  image,
		voices: voices,
		audio:  audio,
		cfg:    cfg,
		logger: logger.With("component", "summary"),
		Now:    time.Now,
	}
}

// SummaryOptions selects what a run produces.
type SummaryOptions struct {
	ForToday bool   // summarize today so far instead of yesterday
	Kind     string // "text" or "audio"
	Engine   string // audio only: "dialogue" or "narrator"
	Lang     string // language hint for prompts
	Debug    bool   // return the content instead of posting it
}

// SummaryResult reports what a run produced.
type SummaryResult struct {
	Date     string   `json:"date"`
	Channels int      `json:"channels"`
	Posts    int      `json:"posts"`
	Content  string   `json:"content,omitempty"`
	AudioURL string   `json:"audio_url,omitempty"`
	Posted   bool     `json:"posted"`
	Logs     []string `json:"logs,omitempty"`
}

// ServeHTTP is the cron entry point for GET /cron/summary.
func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !serviceAuthorized(r, h.cfg.ServiceSecret) {
		jsonError(w, http.StatusUnauthorized, "invalid service token")
		return
	}

	q := r.URL.Query()
	opts := SummaryOptions{
		ForToday: q.Get("forToday") == "true",
		Kind:     q.Get("type"),
		Engine:   q.Get("engine"),
		Lang:     q.Get("lang"),
		Debug:    q.Get("debug") == "true",
	}
	if opts.Kind == "" {
		opts.Kind = "text"
	}
	if opts.Engine == "" {
		opts.Engine = "dialogue"
	}

	result, err := h.Run(r.Context(), opts)
	if err != nil {
		h.logger.Error("summary run failed", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Run executes one summary pass. In debug mode nothing is posted; the
// generated content and the run's log lines come back in the result instead.
func (h *SummaryHandler) Run(ctx context.Context, opts SummaryOptions) (*SummaryResult, error) {
	logger := h.logger
	var collector *logging.Collector
	if opts.Debug {
		collector = &logging.Collector{}
		logger = slog.New(logging.NewCollectHandler(collector, h.logger.Handler()))
	}

	start, end := h.window(opts.ForToday)
	date := start.Format("2006-01-02")
	logger.Info("summary window", "start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))

	transcript, channels, posts, err := h.buildTranscript(ctx, logger, start, end)
	if err != nil {
		return nil, err
	}

	result := &SummaryResult{Date: date, Channels: channels, Posts: posts}
	if collector != nil {
		defer func() { result.Logs = collector.Lines() }()
	}

	if posts == 0 {
		msg := prompts.Interpolate(prompts.NoUpdatesMessage, &prompts.InterpolationContext{Date: date})
		result.Content = msg
		if opts.Debug {
			return result, nil
		}
		if _, err := h.chat.CreatePost(ctx, h.cfg.SummaryChannelID, msg, "", nil); err != nil {
			return nil, fmt.Errorf("posting no-updates notice: %w", err)
		}
		result.Posted = true
		return result, nil
	}

	pctx := &prompts.InterpolationContext{
		Transcript: transcript,
		Date:       date,
		Lang:       opts.Lang,
		Now:        h.Now().In(h.cfg.Location()),
	}

	switch opts.Kind {
	case "audio":
		return h.runAudio(ctx, logger, opts, pctx, result)
	default:
		return h.runText(ctx, logger, opts, pctx, result)
	}
}

func (h *SummaryHandler) runText(ctx context.Context, logger *slog.Logger, opts SummaryOptions, pctx *prompts.InterpolationContext, result *SummaryResult) (*SummaryResult, error) {
	system := prompts.Interpolate(prompts.SummarySystem, pctx)
	user := prompts.Interpolate(prompts.SummaryUser, pctx)

	summary, err := h.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}
	result.Content = summary

	if opts.Debug {
		return result, nil
	}

	// Illustration is best effort: a failed image never blocks the text.
	var fileIDs []string
	if h.image != nil && h.image.IsConfigured() {
		if data, caption, err := h.image.Generate(ctx, prompts.Interpolate(prompts.ImagePrompt, pctx)); err != nil {
			logger.Warn("summary illustration failed", "error", err)
		} else if fileID, err := h.chat.UploadFile(ctx, h.cfg.SummaryChannelID, "summary.png", data); err != nil {
			logger.Warn("illustration upload failed", "error", err)
		} else {
			logger.Info("illustration attached", "caption", caption)
			fileIDs = append(fileIDs, fileID)
		}
	}

	if _, err := h.chat.CreatePost(ctx, h.cfg.SummaryChannelID, summary, "", fileIDs); err != nil {
		return nil, fmt.Errorf("posting summary: %w", err)
	}
	result.Posted = true
	return result, nil
}

func (h *SummaryHandler) runAudio(ctx context.Context, logger *slog.Logger, opts SummaryOptions, pctx *prompts.InterpolationContext, result *SummaryResult) (*SummaryResult, error) {
	voice, ok := h.voices[opts.Engine]
	if !ok {
		return nil, fmt.Errorf("unknown audio engine %q", opts.Engine)
	}

	template := prompts.DialogueScript
	if opts.Engine == "narrator" {
		template = prompts.NarratorScript
	}
	script, err := h.llm.Complete(ctx, prompts.Interpolate(template, pctx), prompts.Interpolate(prompts.SummaryUser, pctx))
	if err != nil {
		return nil, fmt.Errorf("generating audio script: %w", err)
	}
	result.Content = script

	if opts.Debug {
		return result, nil
	}

	synth, err := voice.Synthesize(ctx, script, opts.Lang)
	if err != nil {
		return nil, fmt.Errorf("synthesizing audio: %w", err)
	}

	audioURL := synth.URL
	if audioURL == "" && len(synth.Audio) > 0 {
		path, err := h.audio.Save(synth.Audio)
		if err != nil {
			return nil, fmt.Errorf("saving audio: %w", err)
		}
		audioURL = path
	}
	if audioURL == "" {
		return nil, fmt.Errorf("audio engine %q produced no output", opts.Engine)
	}
	result.AudioURL = audioURL

	msg := fmt.Sprintf(":radio: Today's audio recap for %s is ready: %s", result.Date, audioURL)
	if _, err := h.chat.CreatePost(ctx, h.cfg.SummaryChannelID, msg, "", nil); err != nil {
		return nil, fmt.Errorf("posting audio link: %w", err)
	}
	result.Posted = true
	return result, nil
}

// window returns the [start, end) bounds of the summarized day in the
// configured zone. Default is yesterday's full day; forToday covers today up
// to now.
func (h *SummaryHandler) window(forToday bool) (time.Time, time.Time) {
	loc := h.cfg.Location()
	now := h.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if forToday {
		return today, now
	}
	return today.AddDate(0, 0, -1), today
}

// buildTranscript walks every eligible open channel and renders the day's
// conversation as markdown, one section per channel.
func (h *SummaryHandler) buildTranscript(ctx context.Context, logger *slog.Logger, start, end time.Time) (string, int, int, error) {
	team, err := h.chat.GetTeam(ctx, h.cfg.TeamID)
	if err != nil {
		return "", 0, 0, fmt.Errorf("fetching team: %w", err)
	}

	channels, err := h.chat.GetChannelsForTeam(ctx, h.cfg.TeamID)
	if err != nil {
		return "", 0, 0, fmt.Errorf("listing channels: %w", err)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].DisplayName < channels[j].DisplayName })

	startMillis := start.UnixMilli()
	endMillis := end.UnixMilli()

	var b strings.Builder
	channelCount := 0
	postCount := 0
	// Thread-root restriction checks are memoized across channels for the run.
	rootRestricted := make(map[string]bool)

	for _, ch := range channels {
		if !h.includeChannel(logger, ch, startMillis) {
			continue
		}

		list, err := h.chat.GetPostsSince(ctx, ch.ID, startMillis)
		if err != nil {
			logger.Warn("posts fetch failed", "channel", ch.Name, "error", err)
			continue
		}

		var lines []string
		for _, post := range list.Ordered() {
			if post.CreateAt < startMillis || post.CreateAt >= endMillis {
				continue
			}
			if post.Type != "" || post.DeleteAt > 0 || strings.TrimSpace(post.Message) == "" {
				continue
			}
			if h.threadRestricted(ctx, logger, post, rootRestricted) {
				continue
			}
			lines = append(lines, h.transcriptLine(ctx, post))
		}
		if len(lines) == 0 {
			continue
		}

		channelCount++
		postCount += len(lines)
		fmt.Fprintf(&b, "## [%s](%s/%s/channels/%s)\n", ch.DisplayName, h.chat.BaseURL(), team.Name, ch.Name)
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	logger.Info("transcript built", "channels", channelCount, "posts", postCount)
	return b.String(), channelCount, postCount, nil
}

func (h *SummaryHandler) includeChannel(logger *slog.Logger, ch chat.Channel, startMillis int64) bool {
	if ch.Type != "O" || ch.DeleteAt > 0 {
		return false
	}
	if ch.ID == h.cfg.SummaryChannelID {
		return false
	}
	if strings.Contains(ch.DisplayName, mutedChannel) {
		return false
	}
	if hasRestrictionGlyph(ch.Purpose) || hasRestrictionGlyph(ch.Header) {
		logger.Info("restricted channel skipped", "channel", ch.Name)
		return false
	}
	return ch.LastPostAt >= startMillis
}

// threadRestricted reports whether the post belongs to a thread whose root
// message opts out of summaries.
func (h *SummaryHandler) threadRestricted(ctx context.Context, logger *slog.Logger, post chat.Post, memo map[string]bool) bool {
	rootID := post.RootID
	if rootID == "" {
		return startsWithRestrictionGlyph(post.Message)
	}
	if restricted, ok := memo[rootID]; ok {
		return restricted
	}

	restricted := false
	root, err := h.chat.GetPost(ctx, rootID)
	if err != nil {
		logger.Warn("thread root fetch failed, excluding reply", "root_id", rootID, "error", err)
		restricted = true
	} else {
		restricted = startsWithRestrictionGlyph(root.Message)
	}
	memo[rootID] = restricted
	return restricted
}

func (h *SummaryHandler) transcriptLine(ctx context.Context, post chat.Post) string {
	username := h.chat.Username(ctx, post.UserID)
	message := chat.StripMentions(strings.TrimSpace(post.Message))

	line := fmt.Sprintf("%s: %s", username, strings.ReplaceAll(message, "\n", " "))

	reactions, err := h.chat.GetReactions(ctx, post.ID)
	if err == nil && len(reactions) > 0 {
		byEmoji := make(map[string][]string)
		var order []string
		for _, r := range reactions {
			if len(byEmoji[r.EmojiName]) == 0 {
				order = append(order, r.EmojiName)
			}
			byEmoji[r.EmojiName] = append(byEmoji[r.EmojiName], h.chat.Username(ctx, r.UserID))
		}
		parts := make([]string, len(order))
		for i, emoji := range order {
			parts[i] = fmt.Sprintf(":%s: %s", emoji, strings.Join(byEmoji[emoji], ","))
		}
		line += " [" + strings.Join(parts, " ") + "]"
	}
	return line
}

func hasRestrictionGlyph(s string) bool {
	return strings.Contains(s, restrictedLock) || strings.Contains(s, restrictedHide)
}

func startsWithRestrictionGlyph(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, restrictedLock) || strings.HasPrefix(t, restrictedHide)
}
