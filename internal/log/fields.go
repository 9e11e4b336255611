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
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldSessionID    = "session_id"
	FieldPurchaseID   = "purchase_id"
	FieldItemID       = "item_id"
	FieldImageID      = "image_id"
	FieldUserID       = "user_id"
	FieldCategoryName = "category_name"
	FieldLevel        = "level"
	FieldItemCount    = "item_count"
	FieldImageCount   = "image_count"
	FieldTotal        = "total"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentEditor    = "editor"
	ComponentImages    = "images"
	ComponentGateway   = "gateway"
	ComponentBackend   = "backend"
	ComponentOCR       = "ocr"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentMirror    = "mirror"
	ComponentExport    = "export"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpCreate  = "create"
	OpRead    = "read"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpReorder = "reorder"
	OpSave    = "save"
	OpScan    = "scan"
	OpCommit  = "commit"
	OpPublish = "publish"
	OpConsume = "consume"
	OpExport  = "export"
)
