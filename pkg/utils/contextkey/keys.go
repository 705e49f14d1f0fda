package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	// UserID holds the authenticated user id as int64.
	UserID key = "user_id"
)
