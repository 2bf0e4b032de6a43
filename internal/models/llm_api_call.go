package models

import "time"

// LLMAPICall is one attempt against the LLM endpoint. Prompt and response bodies are never stored.
type LLMAPICall struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TaskID        string    `gorm:"size:64;index" json:"task_id"`
	Endpoint      string    `gorm:"size:255" json:"endpoint"`
	Model         string    `gorm:"size:64" json:"model"`
	Attempt       int       `json:"attempt"`
	Outcome       string    `gorm:"size:32;index" json:"outcome"`
	StatusCode    int       `json:"status_code"`
	PromptBytes   int       `json:"prompt_bytes"`
	ResponseBytes int       `json:"response_bytes"`
	DurationMS    int64     `json:"duration_ms"`
	StartedAt     time.Time `gorm:"index" json:"started_at"`
	CreatedAt     time.Time `json:"created_at"`
}
