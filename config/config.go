package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the service.
type Config struct {
	// Chat platform.
	MattermostURL   string
	MattermostToken string
	TeamID          string

	// Where summaries and no-update notices are posted.
	SummaryChannelID string

	// Group whose members are the implicit reminder targets.
	MentorGroup string

	// Reaction that marks a task as acknowledged.
	DoneEmoji string

	// Shared secrets for the slash commands.
	TaskCommandToken   string
	RemindCommandToken string
	StopCommandToken   string

	// Secret for the cron endpoints and the ops token exchange.
	ServiceSecret string

	OpenAIKey string

	DBPath string

	// Voice synthesis backends.
	DialogueTTSURL string
	NarratorTTSURL string
	AudioDir       string

	// Calendar days are interpreted at this fixed UTC offset.
	TZOffsetHours int

	Port string

	// In-process schedules. External cron hitting /cron/* works either way.
	EnableCron       bool
	EvaluateSchedule string
	SummarySchedule  string
}

// Load reads configuration from environment variables with sane defaults.
// A local .env file is honored when present.
func Load() (Config, error) {
	godotenv.Load()

	cfg := Config{
		MattermostURL:      strings.TrimRight(getenv("MATTERMOST_URL", ""), "/"),
		MattermostToken:    os.Getenv("MATTERMOST_TOKEN"),
		TeamID:             os.Getenv("MATTERMOST_TEAM_ID"),
		SummaryChannelID:   os.Getenv("SUMMARY_CHANNEL_ID"),
		MentorGroup:        getenv("MENTOR_GROUP", "mentors"),
		DoneEmoji:          getenv("DONE_EMOJI", "done"),
		TaskCommandToken:   os.Getenv("TASK_COMMAND_TOKEN"),
		RemindCommandToken: os.Getenv("REMIND_COMMAND_TOKEN"),
		StopCommandToken:   os.Getenv("STOP_COMMAND_TOKEN"),
		ServiceSecret:      os.Getenv("SERVICE_SECRET"),
		OpenAIKey:          os.Getenv("OPENAI_KEY"),
		DBPath:             getenv("DB_PATH", "./mentorbot.db"),
		DialogueTTSURL:     os.Getenv("DIALOGUE_TTS_URL"),
		NarratorTTSURL:     os.Getenv("NARRATOR_TTS_URL"),
		AudioDir:           getenv("AUDIO_DIR", "./audio"),
		TZOffsetHours:      getint("TZ_OFFSET_HOURS", 9),
		Port:               getenv("PORT", "8080"),
		EnableCron:         getenv("ENABLE_CRON", "true") == "true",
		EvaluateSchedule:   getenv("EVALUATE_SCHEDULE", "0 9 * * *"),
		SummarySchedule:    getenv("SUMMARY_SCHEDULE", "30 8 * * *"),
	}

	if cfg.MattermostURL == "" {
		return cfg, fmt.Errorf("MATTERMOST_URL is required")
	}
	if cfg.MattermostToken == "" {
		return cfg, fmt.Errorf("MATTERMOST_TOKEN is required")
	}
	if cfg.TeamID == "" {
		return cfg, fmt.Errorf("MATTERMOST_TEAM_ID is required")
	}

	return cfg, nil
}

// Location returns the fixed offset zone all calendar math uses.
func (c Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.TZOffsetHours), c.TZOffsetHours*3600)
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
