// prodagent/utils/types/chat.go
package types

import (
	"strings"
	"time"
)

type Mode string

const (
	ModePrePurchase  Mode = "PRE_PURCHASE"
	ModePostPurchase Mode = "POST_PURCHASE"
)

// ParseMode accepts either mode name, case-insensitively. Empty input is not a mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePrePurchase:
		return ModePrePurchase, true
	case ModePostPurchase:
		return ModePostPurchase, true
	}
	return "", false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TurnStatus string

const (
	TurnOK     TurnStatus = "ok"
	TurnFailed TurnStatus = "failed"
)

// Image is an attachment as received; it is never persisted.
type Image struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Turn is one message of a conversation.
type Turn struct {
	Seq        int        `json:"seq"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Mode       Mode       `json:"mode"`
	Status     TurnStatus `json:"status"`
	ImageCount int        `json:"image_count,omitempty"`
	Images     []Image    `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Failed reports whether the turn is an error marker rather than a real answer.
func (t Turn) Failed() bool { return t.Status == TurnFailed }

type ChatRequest struct {
	Message   string `json:"message"`
	ModelID   string `json:"model_id"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// ConversationID is the legacy name of SessionID, accepted on input only.
	ConversationID string  `json:"conversation_id,omitempty"`
	Language       string  `json:"language,omitempty"`
	UserID         string  `json:"-"`
	Images         []Image `json:"-"`
}

// Normalize folds the legacy conversation_id into session_id and trims input.
func (r *ChatRequest) Normalize() {
	r.Message = strings.TrimSpace(r.Message)
	r.ModelID = strings.TrimSpace(r.ModelID)
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.SessionID == "" {
		r.SessionID = strings.TrimSpace(r.ConversationID)
	}
	r.ConversationID = ""
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
}

type ChatResponse struct {
	Response     string   `json:"response"`
	Mode         Mode     `json:"mode"`
	SessionID    string   `json:"session_id,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
	ProductFound bool     `json:"product_found"`
	SnippetsUsed int      `json:"snippets_used"`
	Persisted    bool     `json:"persisted"`
	Error        bool     `json:"error,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
}

type HistoryResponse struct {
	SessionID string `json:"session_id"`
	Messages  []Turn `json:"messages"`
}

type ModeSwitchRequest struct {
	Mode      string `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
}

type ModeSwitchResponse struct {
	Status  string `json:"status"`
	Mode    Mode   `json:"mode"`
	Message string `json:"message"`
}

type ErrorCodeRequest struct {
	ModelID   string `json:"model_id"`
	ErrorCode string `json:"error_code"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

type Requirements struct {
	Features []string `json:"features,omitempty"`
	MinPrice float64  `json:"min_price,omitempty"`
	MaxPrice float64  `json:"max_price,omitempty"`
}

type RecommendRequest struct {
	Category     string       `json:"category"`
	Requirements Requirements `json:"requirements"`
	Language     string       `json:"language,omitempty"`
}

type RoomAnalysisResponse struct {
	Status          string  `json:"status"`
	Analysis        string  `json:"analysis"`
	Confidence      string  `json:"confidence"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type ColorMatchRequest struct {
	RoomAnalysis string `json:"room_analysis"`
	ProductID    string `json:"product_id"`
}

type AssessFitRequest struct {
	RoomAnalysis string `json:"room_analysis"`
	ModelID      string `json:"model_id"`
}

type TextResponse struct {
	Response string `json:"response"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
	ModelID   string `json:"model_id"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// ConversationSummary is one row of the conversation list.
// LastActivity: RFC3339 string
type ConversationSummary struct {
	SessionID    string `json:"session_id"`
	ProductID    string `json:"product_id,omitempty"`
	ModelID      string `json:"model_id"`
	Mode         Mode   `json:"mode"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}
