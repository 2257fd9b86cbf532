package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/transform"
	"github.com/go-playground/validator/v10"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxPipelineSteps = 16
)

type CreateJobRequest struct {
	SourceType string         `json:"source_type" validate:"required,oneof=local_file s3_presigned"`
	UserID     string         `json:"user_id,omitempty" validate:"max=128"`
	WebhookURL string         `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ObjectKey  string         `json:"object_key,omitempty" validate:"required_if=SourceType local_file"`
	Pipeline   []PipelineStep `json:"pipeline" validate:"required,min=1,max=16,dive"`
}

// PipelineStep produces one output from the job's source image.
type PipelineStep struct {
	ID string `json:"id" validate:"required,max=64"`
	// Format is the output format name; empty keeps the input format.
	Format     string                `json:"format,omitempty"`
	Shrink     int                   `json:"shrink,omitempty" validate:"gte=0,lte=8"`
	Operations []transform.Operation `json:"operations,omitempty" validate:"max=32"`
	Save       *engine.SaveOptions   `json:"save,omitempty"`
}

// Plan turns the step into an engine plan.
func (s PipelineStep) Plan() (engine.Plan, error) {
	plan := engine.Plan{
		Shrink:     s.Shrink,
		Operations: s.Operations,
	}
	if strings.TrimSpace(s.Format) != "" {
		tag, err := format.Parse(s.Format)
		if err != nil {
			return engine.Plan{}, err
		}
		plan.Format = tag
	}
	if s.Save != nil {
		plan.Save = *s.Save
	}
	return plan, nil
}

type Job struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	Status     string         `json:"status"`
	SourceType string         `json:"source_type"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	Pipeline   []PipelineStep `json:"pipeline"`
	ObjectKey  string         `json:"object_key"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize trims and lowercases the fields that are matched case-insensitively.
func (r CreateJobRequest) Normalize() CreateJobRequest {
	r.SourceType = strings.ToLower(strings.TrimSpace(r.SourceType))
	r.ObjectKey = strings.TrimSpace(r.ObjectKey)
	r.UserID = strings.TrimSpace(r.UserID)
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	return r
}

// Validate checks the request shape and that every step describes a plan the
// engine accepts.
func (r CreateJobRequest) Validate() error {
	r = r.Normalize()
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	seen := make(map[string]struct{}, len(r.Pipeline))
	for i, step := range r.Pipeline {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("pipeline[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}

		plan, err := step.Plan()
		if err != nil {
			return fmt.Errorf("pipeline[%d].format: %w", i, err)
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("pipeline[%d]: %w", i, err)
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		if fe.Field() == "object_key" {
			return errors.New("object_key is required for source_type=local_file")
		}
		if fe.Field() == "pipeline" {
			return errors.New("pipeline must contain at least one step")
		}
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("unsupported %s: %v", field, fe.Value())
	case "url":
		return fmt.Errorf("%s must be a valid URL", field)
	case "min":
		return fmt.Errorf("%s must contain at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	case "gte", "lte":
		return fmt.Errorf("%s must be between 0 and 8", field)
	default:
		return fmt.Errorf("%s failed validation for tag '%s'", field, fe.Tag())
	}
}
