package build

import (
	"context"

	"github.com/google/uuid"
)

const (
	callCreateBuild   = "CreateBuild"
	callGetBuild      = "GetBuild"
	callCompleteBuild = "CompleteBuild"
	callGetBuildJob   = "GetBuildJob"
)

var _ Database = (*SpyDatabase)(nil)

// SpyDatabase records calls and replays canned results. CreateBuild
// defaults to echoing its params into a Build with a fresh id.
type SpyDatabase struct {
	GetBuildResult      *Build
	GetBuildErr         error
	CompleteBuildFunc   func(params *DatabaseCompleteBuildParams) (*Build, error)
	GetBuildJobResult   *Job
	GetBuildJobErr      error
	CreateBuildParams   *DatabaseCreateBuildParams
	CompleteBuildParams *DatabaseCompleteBuildParams

	Calls *[]string
}

func (d *SpyDatabase) appendCalls(c ...string) {
	if d.Calls == nil {
		d.Calls = new([]string)
	}
	*d.Calls = append(*d.Calls, c...)
}

func (d *SpyDatabase) CreateBuild(_ context.Context, params *DatabaseCreateBuildParams) (*Build, error) {
	d.appendCalls(callCreateBuild)
	d.CreateBuildParams = params
	return &Build{
		ID:     uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"),
		SiteID: params.SiteID,
		UserID: params.UserID,
		Branch: params.Branch,
		State:  params.State,
		Token:  params.Token,
		Source: params.Source,
	}, nil
}

func (d *SpyDatabase) GetBuild(_ context.Context, _ uuid.UUID) (*Build, error) {
	d.appendCalls(callGetBuild)
	return d.GetBuildResult, d.GetBuildErr
}

func (d *SpyDatabase) CompleteBuild(_ context.Context, params *DatabaseCompleteBuildParams) (*Build, error) {
	d.appendCalls(callCompleteBuild)
	d.CompleteBuildParams = params
	if d.CompleteBuildFunc != nil {
		return d.CompleteBuildFunc(params)
	}
	completed := *d.GetBuildResult
	completed.State = params.State
	completed.Error = params.Error
	return &completed, nil
}

func (d *SpyDatabase) GetBuildJob(_ context.Context, _ uuid.UUID) (*Job, error) {
	d.appendCalls(callGetBuildJob)
	return d.GetBuildJobResult, d.GetBuildJobErr
}
