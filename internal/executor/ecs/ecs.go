// Package ecs runs build jobs as AWS ECS Fargate tasks.
package ecs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/splax/shipyard/internal/executor"
)

// DefaultContainerName is the task definition container that receives the overrides.
const DefaultContainerName = "builder-image"

// runTaskAPI is the slice of the ECS client the executor uses.
type runTaskAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// Config selects the cluster, task definition and network placement.
type Config struct {
	Region         string
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// Executor submits RunTask requests.
type Executor struct {
	api runTaskAPI
	cfg Config
}

var _ executor.Executor = (*Executor)(nil)

// New loads AWS credentials from the default chain and returns an executor.
func New(ctx context.Context, cfg Config) (*Executor, error) {
	if strings.TrimSpace(cfg.Cluster) == "" || strings.TrimSpace(cfg.TaskDefinition) == "" {
		return nil, fmt.Errorf("ecs executor: cluster and task definition required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newWithAPI(ecs.NewFromConfig(awsCfg), cfg), nil
}

func newWithAPI(api runTaskAPI, cfg Config) *Executor {
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	return &Executor{api: api, cfg: cfg}
}

// Submit starts one Fargate task carrying the job environment as container overrides.
func (e *Executor) Submit(ctx context.Context, req executor.JobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	out, err := e.api.RunTask(ctx, e.runTaskInput(req))
	if err != nil {
		return fmt.Errorf("ecs run task: %w", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return fmt.Errorf("%w: ecs %s: %s", executor.ErrRejected,
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	return nil
}

func (e *Executor) runTaskInput(req executor.JobRequest) *ecs.RunTaskInput {
	env := make([]types.KeyValuePair, 0, len(req.Env))
	req.EachEnv(func(key, value string) {
		env = append(env, types.KeyValuePair{Name: aws.String(key), Value: aws.String(value)})
	})

	assign := types.AssignPublicIpDisabled
	if e.cfg.AssignPublicIP {
		assign = types.AssignPublicIpEnabled
	}

	return &ecs.RunTaskInput{
		Cluster:        aws.String(e.cfg.Cluster),
		TaskDefinition: aws.String(e.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String(startedBy(req.BuildID)),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        e.cfg.Subnets,
				SecurityGroups: e.cfg.SecurityGroups,
				AssignPublicIp: assign,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name:        aws.String(e.cfg.ContainerName),
				Environment: env,
			}},
		},
	}
}

// startedBy fits the build ID into ECS's 36 character startedBy field.
func startedBy(buildID string) string {
	if len(buildID) > 36 {
		return buildID[:36]
	}
	return buildID
}
