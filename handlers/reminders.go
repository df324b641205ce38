package handlers

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/models"
	"mentorbot/store"
)

// ReminderHandler creates tracked tasks from slash commands. Two command
// variants exist: /task requires explicit @mention targets, /remind takes
// free text only and falls back to the mentor group at evaluation time.
type ReminderHandler struct {
	store  *store.Store
	chat   *chat.Client
	cfg    config.Config
	logger *slog.Logger
}

func NewReminderHandler(s *store.Store, c *chat.Client, cfg config.Config, logger *slog.Logger) *ReminderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderHandler{store: s, chat: c, cfg: cfg, logger: logger.With("component", "reminders")}
}

const (
	taskUsage   = "Usage: `/task YYYY/MM/DD @user [@user|@group ...] task description`"
	remindUsage = "Usage: `/remind YYYY/MM/DD task description`"
)

// CreateTask handles the /task command: date, at least one mention, body.
func (h *ReminderHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.cfg.TaskCommandToken, true, taskUsage)
}

// CreateRemind handles the legacy /remind command: date and body, no
// mentions. Targets default to the mentor group during evaluation.
func (h *ReminderHandler) CreateRemind(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.cfg.RemindCommandToken, false, remindUsage)
}

func (h *ReminderHandler) create(w http.ResponseWriter, r *http.Request, secret string, wantMentions bool, usage string) {
	if err := r.ParseForm(); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid form payload")
		return
	}
	if !tokenMatches(r.FormValue("token"), secret) {
		jsonError(w, http.StatusUnauthorized, "invalid command token")
		return
	}

	channelID := r.FormValue("channel_id")
	if channelID == "" {
		jsonError(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	cmd, usageErr := parseTaskCommand(r.FormValue("text"), wantMentions)
	if usageErr != "" {
		commandText(w, usageErr+"\n"+usage)
		return
	}

	ctx := r.Context()
	targets := h.chat.ResolveMentions(ctx, cmd.mentions)

	message := formatAnnouncement(cmd.dueDate, targets, cmd.body)
	post, err := h.chat.CreatePost(ctx, channelID, message, "", nil)
	if err != nil {
		h.logger.Error("failed to create task post", "error", err)
		jsonError(w, http.StatusInternalServerError, "could not create the task post: "+err.Error())
		return
	}

	reminder := &models.Reminder{
		PostID:    post.ID,
		ChannelID: channelID,
		DueDate:   cmd.dueDate.Format("2006-01-02"),
		Content:   models.ReminderContent{Body: cmd.body, TargetUsernames: targets}.Encode(),
	}
	if err := h.store.UpsertReminder(reminder); err != nil {
		// The announcement post already exists; there is no compensating
		// delete, so an orphaned post is possible here.
		h.logger.Error("failed to persist reminder", "post_id", post.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "could not save the reminder: "+err.Error())
		return
	}

	// Rewrite the post to carry its own stop token.
	withStop := message + "\n\n" + stopInstruction(post.ID, h.cfg.DoneEmoji)
	if _, err := h.chat.UpdatePost(ctx, post.ID, withStop); err != nil {
		h.logger.Warn("failed to append stop instruction", "post_id", post.ID, "error", err)
	}

	commandText(w, fmt.Sprintf("Task created, due %s. Tracking id: `%s`", reminder.DueDate, post.ID))
}

type taskCommand struct {
	dueDate  time.Time
	mentions []string
	body     string
}

// parseTaskCommand splits "<date> [@mention ...] <free text>". The returned
// string is a user-facing usage error; empty means success.
func parseTaskCommand(text string, wantMentions bool) (taskCommand, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return taskCommand{}, "Missing arguments."
	}

	due, err := time.Parse("2006/01/02", fields[0])
	if err != nil {
		return taskCommand{}, fmt.Sprintf("Could not read %q as a date (expected YYYY/MM/DD).", fields[0])
	}

	rest := fields[1:]
	var mentions []string
	for len(rest) > 0 && strings.HasPrefix(rest[0], "@") {
		mentions = append(mentions, rest[0])
		rest = rest[1:]
	}

	if wantMentions && len(mentions) == 0 {
		return taskCommand{}, "At least one @mention target is required."
	}
	if !wantMentions && len(mentions) > 0 {
		// The legacy variant never takes mentions; treat them as body text.
		rest = fields[1:]
		mentions = nil
	}

	body := strings.TrimSpace(strings.Join(rest, " "))
	if body == "" {
		return taskCommand{}, "The task description is missing."
	}

	return taskCommand{dueDate: due, mentions: mentions, body: body}, ""
}

func formatAnnouncement(due time.Time, targets []string, body string) string {
	var b strings.Builder
	b.WriteString("#### :pushpin: New task\n")
	fmt.Fprintf(&b, "**Due:** %s\n", due.Format("2006-01-02"))
	if len(targets) > 0 {
		b.WriteString("**Assignees:** ")
		for i, t := range targets {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString("@" + t)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

func stopInstruction(postID, doneEmoji string) string {
	return fmt.Sprintf("_React with :%s: when you are done. To stop tracking: `/stop %s`_", doneEmoji, postID)
}

func tokenMatches(got, want string) bool {
	if want == "" {
		// Unconfigured secret means the command is not protected; accept.
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
