// Package models defines the entity types shared across the control plane:
// jobs, notifications, and interaction-log rows.
package models

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDoneOK    JobStatus = "done_ok"
	JobStatusDoneError JobStatus = "done_error"
	JobStatusDead      JobStatus = "dead"
)

// Job is the unit of work flowing through the queue scheduler.
// A job lives in exactly one queue at any instant, keyed by IDHash.
type Job struct {
	// Identity
	IDHash string `json:"id_hash"`
	Tag    string `json:"tag"` // human-readable two-word label

	// Ownership
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	SessionID string `json:"session_id,omitempty"` // WebSocket session that submitted it

	// Content
	Question          string `json:"question"`
	LastQuestionAsked string `json:"last_question_asked"` // normalized form
	QuestionGist      string `json:"question_gist,omitempty"`
	RoutingCommand    string `json:"routing_command"`

	// Outcome
	Answer               string   `json:"answer,omitempty"`
	AnswerConversational string   `json:"answer_conversational,omitempty"`
	Code                 []string `json:"code,omitempty"`
	CodeExample          string   `json:"code_example,omitempty"`
	CodeReturns          string   `json:"code_returns,omitempty"`
	Error                string   `json:"error,omitempty"`

	// Status
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Flags
	IsCacheHit bool   `json:"is_cache_hit"`
	JobType    string `json:"job_type"` // agent family name

	// Agentic jobs only
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	CostSummary string            `json:"cost_summary,omitempty"`
	CostTokens  int64             `json:"cost_tokens,omitempty"`
}

// Metadata returns the projection of the job exposed by queue retrieval.
// Raw job objects (with code and prompt state) never leave the scheduler.
func (j *Job) Metadata() JobMetadata {
	return JobMetadata{
		IDHash:               j.IDHash,
		Tag:                  j.Tag,
		UserID:               j.UserID,
		Question:             j.Question,
		RoutingCommand:       j.RoutingCommand,
		AnswerConversational: j.AnswerConversational,
		Error:                j.Error,
		Status:               j.Status,
		IsCacheHit:           j.IsCacheHit,
		JobType:              j.JobType,
		CreatedAt:            j.CreatedAt,
		StartedAt:            j.StartedAt,
		CompletedAt:          j.CompletedAt,
	}
}

// JobMetadata is the queue-retrieval projection of a Job.
type JobMetadata struct {
	IDHash               string     `json:"id_hash"`
	Tag                  string     `json:"tag"`
	UserID               string     `json:"user_id"`
	Question             string     `json:"question"`
	RoutingCommand       string     `json:"routing_command"`
	AnswerConversational string     `json:"answer_conversational,omitempty"`
	Error                string     `json:"error,omitempty"`
	Status               JobStatus  `json:"status"`
	IsCacheHit           bool       `json:"is_cache_hit"`
	JobType              string     `json:"job_type"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}
