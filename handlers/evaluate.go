package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"mentorbot/chat"
	"mentorbot/config"
	"mentorbot/models"
	"mentorbot/store"
)

// EvaluateHandler walks every open reminder on each run: it checks whether
// the tracked post still exists, collects done-reactions across the thread,
// completes reminders whose whole target set has acknowledged, and posts a
// threaded nudge to whoever is still pending when the schedule says so.
type EvaluateHandler struct {
	store  *store.Store
	chat   *chat.Client
	cfg    config.Config
	logger *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewEvaluateHandler(s *store.Store, c *chat.Client, cfg config.Config, logger *slog.Logger) *EvaluateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateHandler{
		store:  s,
		chat:   c,
		cfg:    cfg,
		logger: logger.With("component", "evaluate"),
		Now:    time.Now,
	}
}

// preDueDays are the days-before-deadline on which a nudge goes out. Once a
// task is due or overdue, a nudge goes out on every run with no upper bound.
var preDueDays = map[int]bool{7: true, 5: true, 3: true, 2: true, 1: true}

// Report summarizes one evaluation run.
type Report struct {
	Evaluated int `json:"evaluated"`
	Notified  int `json:"notified"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
}

// ServeHTTP is the cron entry point.
func (h *EvaluateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !serviceAuthorized(r, h.cfg.ServiceSecret) {
		jsonError(w, http.StatusUnauthorized, "invalid service token")
		return
	}

	report, err := h.Run(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "evaluation complete", "report": report})
}

// Run evaluates all open reminders. Per-reminder failures are logged and
// skipped; the next scheduled run retries them naturally.
func (h *EvaluateHandler) Run(ctx context.Context) (*Report, error) {
	reminders, err := h.store.ListOpenReminders()
	if err != nil {
		return nil, fmt.Errorf("loading open reminders: %w", err)
	}

	report := &Report{}
	for i := range reminders {
		r := &reminders[i]
		report.Evaluated++
		notified, completed, err := h.evaluateOne(ctx, r)
		if err != nil {
			report.Errors++
			h.logger.Error("reminder evaluation failed", "post_id", r.PostID, "error", err)
			continue
		}
		if notified {
			report.Notified++
		}
		if completed {
			report.Completed++
		}
	}

	h.logger.Info("evaluation run finished",
		"evaluated", report.Evaluated,
		"notified", report.Notified,
		"completed", report.Completed,
		"errors", report.Errors,
	)
	return report, nil
}

func (h *EvaluateHandler) evaluateOne(ctx context.Context, r *models.Reminder) (notified, completed bool, err error) {
	post, err := h.chat.GetPost(ctx, r.PostID)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && post.DeleteAt > 0) {
		// External deletion of the root post is a terminal state.
		if err := h.store.MarkReminderComplete(r.PostID); err != nil {
			return false, false, fmt.Errorf("completing deleted reminder: %w", err)
		}
		h.logger.Info("root post gone, reminder completed", "post_id", r.PostID)
		return false, true, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("fetching root post: %w", err)
	}

	pending, err := h.pendingUsernames(ctx, r)
	if err != nil {
		return false, false, err
	}

	if len(pending) == 0 {
		// Everyone acknowledged: complete silently, no nudge on this run.
		if err := h.store.MarkReminderComplete(r.PostID); err != nil {
			return false, false, fmt.Errorf("completing reminder: %w", err)
		}
		return false, true, nil
	}

	diff, err := h.daysUntilDue(r.DueDate)
	if err != nil {
		return false, false, fmt.Errorf("parsing due date %q: %w", r.DueDate, err)
	}
	if !shouldNotify(diff) {
		return false, false, nil
	}

	body := models.ParseContent(r.Content).Body
	msg := reminderMessage(diff, pending, body)
	if _, err := h.chat.CreatePost(ctx, r.ChannelID, msg, r.PostID, nil); err != nil {
		return false, false, fmt.Errorf("posting reminder: %w", err)
	}
	return true, false, nil
}

// pendingUsernames computes the target set minus everyone with a done
// reaction anywhere in the thread. Usernames that fail to resolve are always
// pending.
func (h *EvaluateHandler) pendingUsernames(ctx context.Context, r *models.Reminder) ([]string, error) {
	content := models.ParseContent(r.Content)

	// Target set: explicit usernames from the row, else the mentor group.
	var targetIDs map[string]string // username → id
	var unknown []string
	if len(content.TargetUsernames) > 0 {
		targetIDs, unknown = h.chat.ResolveUsernameIDs(ctx, content.TargetUsernames)
	} else {
		group, err := h.chat.GetGroupByName(ctx, h.cfg.MentorGroup)
		if err != nil {
			return nil, fmt.Errorf("resolving mentor group %q: %w", h.cfg.MentorGroup, err)
		}
		ids, err := h.chat.GetGroupMemberIDs(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("listing mentor group members: %w", err)
		}
		users, err := h.chat.GetUsersByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolving mentor group members: %w", err)
		}
		targetIDs = make(map[string]string, len(users))
		for _, u := range users {
			targetIDs[u.Username] = u.ID
		}
	}

	done, err := h.doneReactors(ctx, r.PostID)
	if err != nil {
		return nil, err
	}

	var pending []string
	for username, id := range targetIDs {
		if !done[id] {
			pending = append(pending, username)
		}
	}
	pending = append(pending, unknown...)
	sort.Strings(pending)
	return pending, nil
}

// doneReactors unions the user ids that reacted with the done emoji on any
// post in the reminder's thread.
func (h *EvaluateHandler) doneReactors(ctx context.Context, rootID string) (map[string]bool, error) {
	thread, err := h.chat.GetThread(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("fetching thread: %w", err)
	}

	done := make(map[string]bool)
	for _, post := range thread.Ordered() {
		reactions, err := h.chat.GetReactions(ctx, post.ID)
		if err != nil {
			// One bad post must not abort the whole thread scan.
			h.logger.Warn("reactions fetch failed", "post_id", post.ID, "error", err)
			continue
		}
		for _, reaction := range reactions {
			if reaction.EmojiName == h.cfg.DoneEmoji {
				done[reaction.UserID] = true
			}
		}
	}
	return done, nil
}

// daysUntilDue returns ceil((due − now) / 1 day) in the configured zone:
// negative is overdue, zero is due today, positive is days remaining.
func (h *EvaluateHandler) daysUntilDue(dueDate string) (int, error) {
	loc := h.cfg.Location()
	due, err := time.ParseInLocation("2006-01-02", dueDate, loc)
	if err != nil {
		return 0, err
	}
	hours := due.Sub(h.Now().In(loc)).Hours()
	return int(math.Ceil(hours / 24)), nil
}

func shouldNotify(diffDays int) bool {
	return diffDays <= 0 || preDueDays[diffDays]
}

func reminderMessage(diffDays int, pending []string, body string) string {
	mentions := make([]string, len(pending))
	for i, p := range pending {
		mentions[i] = "@" + p
	}
	who := strings.Join(mentions, " ")

	switch {
	case diffDays < 0:
		return fmt.Sprintf(":rotating_light: %s this task is **%d day(s) overdue**! %s", who, -diffDays, body)
	case diffDays == 0:
		return fmt.Sprintf(":alarm_clock: %s this task is **due today**. %s", who, body)
	default:
		return fmt.Sprintf(":hourglass_flowing_sand: %s %d day(s) left for this task. %s", who, diffDays, body)
	}
}

func serviceAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth || token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == secret
}
