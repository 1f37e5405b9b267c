package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepily/cosa/pkg/llm"
)

// runRecord is the serializable view of a completed run. Live handles —
// the LLM client, code runner, config and logger — are deliberately
// excluded, as are session and user identifiers used only for routing.
type runRecord struct {
	RoutingCommand       string            `json:"routing_command"`
	Topic                string            `json:"serialization_topic"`
	Question             string            `json:"question"`
	Prompt               string            `json:"prompt"`
	RawResponse          string            `json:"raw_response"`
	Fields               map[string]string `json:"fields"`
	Code                 []string          `json:"code"`
	ReturnCode           int               `json:"return_code"`
	Output               string            `json:"output"`
	Answer               string            `json:"answer"`
	AnswerConversational string            `json:"answer_conversational"`
	Usage                llm.Usage         `json:"usage"`
	Timestamp            time.Time         `json:"timestamp"`
}

// Serializer writes run records under {root}/io. Each run gets a
// topic-and-question keyed file; last_response.json always holds the most
// recent record.
type Serializer struct {
	Root string
}

// Save persists the runner's state and returns the log file path.
func (s *Serializer) Save(r *Runner) (string, error) {
	now := time.Now()
	record := runRecord{
		RoutingCommand:       r.agentCfg.RoutingCommand,
		Topic:                r.agentCfg.SerializationTopic,
		Question:             r.Question,
		Prompt:               r.Prompt,
		RawResponse:          r.RawResponse,
		Answer:               r.Answer,
		AnswerConversational: r.AnswerConversational,
		Usage:                r.Usage,
		Timestamp:            now,
	}
	if r.Parsed != nil {
		record.Fields = r.Parsed.Fields
		record.Code = r.Parsed.Code
	}
	if r.LastRun != nil {
		record.ReturnCode = r.LastRun.ReturnCode
		record.Output = r.LastRun.Output
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run record: %w", err)
	}

	logDir := filepath.Join(s.Root, "io", "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%d-%d-%d-%d-%d-%d.json",
		record.Topic, shortQuestion(r.Question),
		now.Year(), int(now.Month()), now.Day(),
		now.Hour(), now.Minute(), now.Second())
	path := filepath.Join(logDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run record: %w", err)
	}

	lastPath := filepath.Join(s.Root, "io", "last_response.json")
	if err := os.WriteFile(lastPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write last response: %w", err)
	}
	return path, nil
}

// shortQuestion reduces the question to a short filesystem-safe fragment.
func shortQuestion(question string) string {
	s := strings.ToLower(strings.TrimSpace(question))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "question"
	}
	return out
}
