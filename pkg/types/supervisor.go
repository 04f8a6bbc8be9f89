package types

import "time"

// HelpRequestStatus is the lifecycle status of an escalated question.
type HelpRequestStatus string

const (
	HelpPending    HelpRequestStatus = "pending"
	HelpResolved   HelpRequestStatus = "resolved"
	HelpUnresolved HelpRequestStatus = "unresolved"
	HelpTimeout    HelpRequestStatus = "timeout"
)

// HelpRequest is a question the assistant escalated to a human supervisor.
type HelpRequest struct {
	ID                 string            `json:"id"`
	Question           string            `json:"question"`
	Context            string            `json:"context,omitempty"`
	Status             HelpRequestStatus `json:"status"`
	Priority           string            `json:"priority"`
	CustomerPhone      string            `json:"customer_phone"`
	CustomerName       string            `json:"customer_name,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	TimeoutAt          *time.Time        `json:"timeout_at,omitempty"`
	HoursWaiting       float64           `json:"hours_waiting"`
	SupervisorResponse string            `json:"supervisor_response,omitempty"`
	SupervisorID       string            `json:"supervisor_id,omitempty"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
}

// KnowledgeBaseEntry is a learned question/answer pair.
type KnowledgeBaseEntry struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Category        string    `json:"category,omitempty"`
	Source          string    `json:"source"`
	ConfidenceScore float64   `json:"confidence_score"`
	UsageCount      int       `json:"usage_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CategoryCount is one row of [Analytics.TopCategories].
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Analytics summarises supervisor activity.
type Analytics struct {
	TotalRequests          int             `json:"total_requests"`
	PendingRequests        int             `json:"pending_requests"`
	ResolvedRequests       int             `json:"resolved_requests"`
	TimeoutRequests        int             `json:"timeout_requests"`
	AvgResolutionTimeHours float64         `json:"avg_resolution_time_hours"`
	KnowledgeBaseEntries   int             `json:"knowledge_base_entries"`
	TopCategories          []CategoryCount `json:"top_categories"`
}

// CleanupResult is returned by the timeout cleanup operation.
type CleanupResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		TimeoutCount int `json:"timeout_count"`
	} `json:"data"`
}

// BackendHealth is the supervisor backend's own health report.
type BackendHealth struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ResolveRequest is a supervisor's answer to a help request. When
// AddToKnowledgeBase is nil the answer is added to the knowledge base.
type ResolveRequest struct {
	SupervisorResponse string `json:"supervisorResponse"`
	SupervisorID       string `json:"supervisorId"`
	AddToKnowledgeBase *bool  `json:"addToKnowledgeBase,omitempty"`
}

// NewKnowledgeEntry is the body of a knowledge base addition.
type NewKnowledgeEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
}
