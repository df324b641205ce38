package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// VoiceResult is the outcome of a synthesis run: either a hosted URL (the
// dialogue backend keeps the audio) or raw bytes (the narrator backend
// returns WAV data we host ourselves).
type VoiceResult struct {
	URL      string
	Audio    []byte
	MimeType string
}

// VoiceProvider is the interface for voice synthesis backends.
type VoiceProvider interface {
	Synthesize(ctx context.Context, script, lang string) (*VoiceResult, error)
}

// ============================================================
// Dialogue provider (hosted multi-speaker job + event stream)
// ============================================================

// DialogueProvider submits a two-host script as an asynchronous job and waits
// for completion on the backend's server-push event stream.
type DialogueProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewDialogueProvider(baseURL string, logger *slog.Logger) *DialogueProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &DialogueProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "dialogue-tts"),
	}
}

type dialogueEvent struct {
	Type     string `json:"type"` // "progress", "completed", "failed"
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Synthesize submits the job and blocks until the event stream reports
// completion or failure.
func (p *DialogueProvider) Synthesize(ctx context.Context, script, lang string) (*VoiceResult, error) {
	jobID, err := p.submitJob(ctx, script, lang)
	if err != nil {
		return nil, err
	}
	p.logger.Info("dialogue job submitted", "job_id", jobID)

	audioURL, err := p.waitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &VoiceResult{URL: audioURL, MimeType: "audio/mpeg"}, nil
}

func (p *DialogueProvider) submitJob(ctx context.Context, script, lang string) (string, error) {
	payload := map[string]any{
		"request_id": uuid.New().String(),
		"script":     script,
		"lang":       lang,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dialogue-tts: marshal job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dialogue-tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dialogue-tts: submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("dialogue-tts: submit returned %d: %s", resp.StatusCode, string(errBody))
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("dialogue-tts: decoding submit response: %w", err)
	}
	if result.JobID == "" {
		return "", fmt.Errorf("dialogue-tts: submit returned no job id")
	}
	return result.JobID, nil
}

// waitForJob consumes the job's WebSocket event stream until a terminal event.
func (p *DialogueProvider) waitForJob(ctx context.Context, jobID string) (string, error) {
	wsURL, err := toWebSocketURL(p.baseURL + "/jobs/" + jobID + "/events")
	if err != nil {
		return "", err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("dialogue-tts: connecting event stream: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(10 * time.Minute)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	// Close the connection when the context dies so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev dialogueEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("dialogue-tts: reading event stream: %w", err)
		}

		switch ev.Type {
		case "completed":
			if ev.AudioURL == "" {
				return "", fmt.Errorf("dialogue-tts: completed event without audio URL")
			}
			return ev.AudioURL, nil
		case "failed":
			return "", fmt.Errorf("dialogue-tts: job failed: %s", ev.Error)
		default:
			p.logger.Debug("dialogue job event", "job_id", jobID, "type", ev.Type)
		}
	}
}

func toWebSocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("dialogue-tts: bad URL %q: %w", httpURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// ============================================================
// Narrator provider (direct single-speaker synthesis)
// ============================================================

// NarratorProvider drives a query+synthesize engine that returns one WAV
// container per call. Long scripts are chunked locally, synthesized with a
// small staggered concurrent fan-out, and reassembled in original order.
// A failed chunk is dropped, not retried.
type NarratorProvider struct {
	baseURL string
	speaker int
	client  *http.Client
	logger  *slog.Logger

	// stagger delays each chunk's start so the backend is not hit with the
	// whole fan-out at once.
	stagger time.Duration
}

const narratorChunkLen = 300

func NewNarratorProvider(baseURL string, speaker int, logger *slog.Logger) *NarratorProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NarratorProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		speaker: speaker,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger.With("component", "narrator-tts"),
		stagger: 200 * time.Millisecond,
	}
}

func (p *NarratorProvider) Synthesize(ctx context.Context, script, lang string) (*VoiceResult, error) {
	chunks := SplitScript(script, narratorChunkLen)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("narrator-tts: empty script")
	}

	segments := make([][]byte, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			select {
			case <-time.After(time.Duration(i) * p.stagger):
			case <-ctx.Done():
				return
			}
			wav, err := p.synthesizeChunk(ctx, chunk)
			if err != nil {
				p.logger.Warn("chunk synthesis failed, omitting", "chunk", i, "error", err)
				return
			}
			segments[i] = wav
		}(i, chunk)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok [][]byte
	for _, seg := range segments {
		if len(seg) > 0 {
			ok = append(ok, seg)
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("narrator-tts: all %d chunks failed", len(chunks))
	}

	audio, err := ConcatWAV(ok)
	if err != nil {
		return nil, fmt.Errorf("narrator-tts: joining audio: %w", err)
	}
	return &VoiceResult{Audio: audio, MimeType: "audio/wav"}, nil
}

// synthesizeChunk performs the backend's two-step protocol: build a synthesis
// query for the text, then render it to a WAV container.
func (p *NarratorProvider) synthesizeChunk(ctx context.Context, text string) ([]byte, error) {
	queryURL := fmt.Sprintf("%s/audio_query?speaker=%d&text=%s", p.baseURL, p.speaker, url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio query failed: %w", err)
	}
	query, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio query returned %d: %s", resp.StatusCode, string(query))
	}

	synthURL := fmt.Sprintf("%s/synthesis?speaker=%d", p.baseURL, p.speaker)
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, synthURL, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("creating synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis returned %d", resp.StatusCode)
	}
	return wav, nil
}

// SplitScript breaks text into chunks of at most maxLen runes, preferring
// sentence boundaries. Chunk order matches reading order.
func SplitScript(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current []rune
	flush := func() {
		s := strings.TrimSpace(string(current))
		if s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	for _, r := range text {
		current = append(current, r)
		if isSentenceEnd(r) && len(current) >= maxLen/2 {
			flush()
			continue
		}
		if len(current) >= maxLen {
			flush()
		}
	}
	flush()
	return chunks
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

var (
	_ VoiceProvider = (*DialogueProvider)(nil)
	_ VoiceProvider = (*NarratorProvider)(nil)
)
