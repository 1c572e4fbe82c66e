package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldFamily         = "family"
	FieldVoucherID      = "voucher_id"
	FieldVoucherURL     = "voucher_url"
	FieldAmountCents    = "amount_cents"
	FieldShortfallCents = "shortfall_cents"
	FieldConsumedCount  = "consumed_count"
	FieldAddedCount     = "added_count"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentSession = "session"
)

// Operations defines standard operation names
const (
	OpAdd      = "add"
	OpBulkAdd  = "bulk_add"
	OpAllocate = "allocate"
	OpRemove   = "remove"
	OpList     = "list"
	OpPurge    = "purge"
	OpExport   = "export"
	OpLogin    = "login"
	OpLogout   = "logout"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
