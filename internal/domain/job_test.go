package domain

import (
	"testing"

	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/transform"
	"github.com/stretchr/testify/require"
)

func thumbStep() PipelineStep {
	return PipelineStep{
		ID:     "thumb_small",
		Format: "jpeg",
		Operations: []transform.Operation{
			{Kind: transform.KindThumbnail, Width: 120},
		},
		Save: &engine.SaveOptions{Quality: 75},
	}
}

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: " S3_Presigned ",
		Pipeline:   []PipelineStep{thumbStep()},
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		req  CreateJobRequest
		want string
	}{
		{
			name: "empty",
			req:  CreateJobRequest{},
			want: "source_type is required",
		},
		{
			name: "missing object key",
			req:  CreateJobRequest{SourceType: SourceTypeLocalFile, Pipeline: []PipelineStep{thumbStep()}},
			want: "object_key is required for source_type=local_file",
		},
		{
			name: "unsupported source type",
			req:  CreateJobRequest{SourceType: "http_url", Pipeline: []PipelineStep{thumbStep()}},
			want: "unsupported source_type: http_url",
		},
		{
			name: "no steps",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned},
			want: "pipeline must contain at least one step",
		},
		{
			name: "bad webhook",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, WebhookURL: "not a url", Pipeline: []PipelineStep{thumbStep()}},
			want: "webhook_url must be a valid URL",
		},
		{
			name: "step without id",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Pipeline: []PipelineStep{{Format: "png"}}},
			want: "pipeline[0].id is required",
		},
		{
			name: "duplicate ids",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Pipeline: []PipelineStep{thumbStep(), thumbStep()}},
			want: `pipeline[1].id "thumb_small" is duplicated`,
		},
		{
			name: "unknown format",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Pipeline: []PipelineStep{{ID: "a", Format: "heic2"}}},
			want: "pipeline[0].format",
		},
		{
			name: "shrink too large",
			req:  CreateJobRequest{SourceType: SourceTypeS3Presigned, Pipeline: []PipelineStep{{ID: "a", Shrink: 16}}},
			want: "pipeline[0].shrink must be between 0 and 8",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateRejectsBadOperation(t *testing.T) {
	req := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Pipeline: []PipelineStep{{
			ID:         "a",
			Operations: []transform.Operation{{Kind: "sharpen"}},
		}},
	}
	err := req.Validate()
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
	require.Contains(t, err.Error(), "pipeline[0]")

	req.Pipeline[0].Operations = nil
	req.Pipeline[0].Save = &engine.SaveOptions{Quality: 500}
	require.ErrorIs(t, req.Validate(), imgerr.ErrInvalidParameter)
}

func TestPipelineStepPlan(t *testing.T) {
	plan, err := thumbStep().Plan()
	require.NoError(t, err)
	require.Equal(t, format.JPEG, plan.Format)
	require.Equal(t, 75, plan.Save.Quality)
	require.Len(t, plan.Operations, 1)

	plan, err = PipelineStep{ID: "keep"}.Plan()
	require.NoError(t, err)
	require.Equal(t, format.Unknown, plan.Format)
}

func TestNormalize(t *testing.T) {
	r := CreateJobRequest{SourceType: " LOCAL_FILE ", ObjectKey: " in.png "}.Normalize()
	require.Equal(t, SourceTypeLocalFile, r.SourceType)
	require.Equal(t, "in.png", r.ObjectKey)
}
