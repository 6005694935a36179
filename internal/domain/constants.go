package domain

// Job-history status constants
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// Rate-limit event status constants
const (
	EventStatusActive      = "ACTIVE"
	EventStatusResolved    = "RESOLVED"
	EventStatusSuccess     = "SUCCESS"
	EventStatusRateLimited = "RATE_LIMITED"
	EventStatusFailed      = "FAILED"
)

// SubjectBatch is the rate-limit subject used for whole-batch fetch attempts.
const SubjectBatch = "BATCH"

// SubjectSystem is the rate-limit subject used for job-level terminal failures.
const SubjectSystem = "SYSTEM"
