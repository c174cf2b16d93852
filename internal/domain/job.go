package domain

import "time"

// Kind selects which generation handler executes a job.
type Kind string

const (
	KindProduct3D Kind = "product_3d"
	KindScene     Kind = "scene"
)

// Status represents the states a generation job can be in.
//
// StatusPending is synthetic: it is never stored, only reported to clients
// when no result record exists yet for a job id.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Job is the unit of tracked work carried from the API to a worker through
// the queue. Payload holds the raw generation request and is immutable after
// submission.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Payload     []byte     `json:"payload"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ShopTheme carries the storefront styling hints forwarded to the model.
type ShopTheme struct {
	Style  string            `json:"style,omitempty"`
	Colors map[string]string `json:"colors,omitempty"`
}

// ProductData describes the product whose image is turned into a 3D object.
type ProductData struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	ProductType   string   `json:"product_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	FeaturedImage string   `json:"featured_image"`
	ImageBase64   string   `json:"image_base64,omitempty"`
}

// ProductRequest is the payload of a product_3d job.
type ProductRequest struct {
	ProductData ProductData `json:"product_data"`
	ShopTheme   *ShopTheme  `json:"shop_theme,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

// SceneRequest is the payload of a scene job: a themed showcase environment
// for a whole shop rather than a single product.
type SceneRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Theme        *ShopTheme `json:"theme,omitempty"`
	ProductCount int        `json:"product_count,omitempty"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	Temperature  *float64   `json:"temperature,omitempty"`
}

const (
	// DefaultMaxTokens bounds the model output when the caller gives no budget.
	DefaultMaxTokens = 4096
	// DefaultTemperature is used when the caller gives no temperature.
	DefaultTemperature = 0.7
)

// EffectiveMaxTokens returns the caller's budget or the default.
func (r *ProductRequest) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// EffectiveTemperature returns the caller's temperature or the default.
func (r *ProductRequest) EffectiveTemperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

func (r *SceneRequest) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

func (r *SceneRequest) EffectiveTemperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// Usage holds the token accounting reported by the model. Counts missing
// upstream default to zero; absent usage never fails a job.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// JobResult is the record stored under a job's result key. Exactly one record
// exists per job id; its Status always matches the populated fields: Metadata
// or SceneCode only on completed, Error/ErrorType only on failed.
type JobResult struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`

	// product_3d success fields
	ProductID   string `json:"product_id,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Metadata    string `json:"metadata,omitempty"`

	// scene success fields
	SceneCode        string     `json:"scene_code,omitempty"`
	ShopName         string     `json:"shop_name,omitempty"`
	ProductPositions int        `json:"product_positions,omitempty"`
	Theme            *ShopTheme `json:"theme,omitempty"`

	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`

	// failure fields
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`

	Message string `json:"message,omitempty"`
}

// FailureResult builds the terminal failure record for a job.
func FailureResult(jobID string, err error) *JobResult {
	return &JobResult{
		JobID:     jobID,
		Status:    StatusFailed,
		Error:     err.Error(),
		ErrorType: ErrorKind(err),
	}
}
