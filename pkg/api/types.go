package api

import (
	"time"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	Countries    int       `json:"countries"`
	Institutions int       `json:"institutions"`
	IndexTokens  int       `json:"index_tokens"`
}
