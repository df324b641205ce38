package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/models"
	"mentorbot/store"
)

// StopHandler deactivates a tracked task given its post id or a permalink
// anywhere in the command text.
type StopHandler struct {
	store  *store.Store
	chat   *chat.Client
	cfg    config.Config
	logger *slog.Logger
}

func NewStopHandler(s *store.Store, c *chat.Client, cfg config.Config, logger *slog.Logger) *StopHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StopHandler{store: s, chat: c, cfg: cfg, logger: logger.With("component", "stop")}
}

var (
	permalinkPattern = regexp.MustCompile(`/pl/([a-z0-9]{26})`)
	postIDPattern    = regexp.MustCompile(`^[a-z0-9]{26}$`)
)

const stopUsage = "Usage: `/stop <post id or permalink>` — the id is shown on the task announcement."

func (h *StopHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid form payload")
		return
	}
	if !tokenMatches(r.FormValue("token"), h.cfg.StopCommandToken) {
		jsonError(w, http.StatusUnauthorized, "invalid command token")
		return
	}

	id := extractStopID(r.FormValue("text"))
	if id == "" {
		commandText(w, stopUsage)
		return
	}

	ctx := r.Context()
	reminder, err := h.store.GetReminder(id)
	if errors.Is(err, store.ErrNotFound) {
		// The id may point into the middle of a thread; resolve to its root.
		if post, perr := h.chat.GetPost(ctx, id); perr == nil && post.RootID != "" {
			reminder, err = h.store.GetReminder(post.RootID)
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		commandText(w, "No tracked task found for `"+id+"`.")
		return
	}
	if err != nil {
		h.logger.Error("reminder lookup failed", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "could not look up the task: "+err.Error())
		return
	}

	if reminder.Completed {
		commandText(w, "That task is already stopped.")
		return
	}

	if err := h.store.MarkReminderComplete(reminder.PostID); err != nil {
		h.logger.Error("failed to stop reminder", "post_id", reminder.PostID, "error", err)
		jsonError(w, http.StatusInternalServerError, "could not stop the task: "+err.Error())
		return
	}

	content := models.ParseContent(reminder.Content)
	confirmation := ":octagonal_sign: Stopped tracking this task."
	if content.Body != "" {
		confirmation = ":octagonal_sign: Stopped tracking: " + firstLine(content.Body)
	}
	if _, err := h.chat.CreatePost(ctx, reminder.ChannelID, confirmation, reminder.PostID, nil); err != nil {
		h.logger.Warn("failed to post stop confirmation", "post_id", reminder.PostID, "error", err)
	}

	commandText(w, "Stopped. No more reminders will be sent for this task.")
}

// extractStopID pulls a post id out of free text: a permalink wins, otherwise
// the first token if it looks like a post id.
func extractStopID(text string) string {
	if m := permalinkPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	fields := strings.Fields(text)
	if len(fields) > 0 && postIDPattern.MatchString(fields[0]) {
		return fields[0]
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
