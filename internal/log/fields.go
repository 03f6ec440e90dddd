package log

// Field names for structured logging.
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldUserID      = "user_id"
	FieldTxID        = "transaction_id"
	FieldCategory    = "category"
	FieldPeriod      = "period"
	FieldInsightKind = "insight_kind"
	FieldSeverity    = "severity"
	FieldDedupKey    = "dedup_key"
	FieldCount       = "count"
	FieldRule        = "rule"
)

// Component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentEngine    = "engine"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentCLI       = "cli"
)

// Operation names.
const (
	OpPass       = "pass"
	OpSummary    = "summary"
	OpRebaseline = "rebaseline"
	OpRoll       = "roll_period"
	OpDeliver    = "deliver"
	OpArchive    = "archive"
	OpImport     = "import"
	OpMigrate    = "migrate"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// Error type categories.
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeOutOfOrder    = "out_of_order_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeRule          = "rule_error"
	ErrorTypeInternal      = "internal_error"
)
