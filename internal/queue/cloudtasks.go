package queue

import (
	"context"
	"fmt"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// CloudTasksConfig identifies the queue and the HTTP worker target.
type CloudTasksConfig struct {
	Project             string
	Location            string
	QueueID             string
	TargetURL           string
	ServiceAccountEmail string
}

// Validate checks that every required identifier is present.
func (c CloudTasksConfig) Validate() error {
	switch {
	case c.Project == "":
		return fmt.Errorf("%w: cloud tasks project is required", serrors.ErrConfig)
	case c.Location == "":
		return fmt.Errorf("%w: cloud tasks location is required", serrors.ErrConfig)
	case c.QueueID == "":
		return fmt.Errorf("%w: cloud tasks queue id is required", serrors.ErrConfig)
	case c.TargetURL == "":
		return fmt.Errorf("%w: cloud tasks target url is required", serrors.ErrConfig)
	}
	return nil
}

// Parent returns the fully qualified queue name.
func (c CloudTasksConfig) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", c.Project, c.Location, c.QueueID)
}

type createTaskFunc func(ctx context.Context, req *cloudtaskspb.CreateTaskRequest) (*cloudtaskspb.Task, error)

// CloudTasks enqueues HTTP-target tasks that POST the JSON payload to the
// worker endpoint.
type CloudTasks struct {
	cfg    CloudTasksConfig
	client *cloudtasks.Client
	create createTaskFunc
	logger zerolog.Logger
}

// NewCloudTasks validates cfg and dials the Cloud Tasks API.
func NewCloudTasks(ctx context.Context, cfg CloudTasksConfig, logger zerolog.Logger) (*CloudTasks, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating cloud tasks client: %w", err)
	}
	q := newCloudTasks(cfg, func(ctx context.Context, req *cloudtaskspb.CreateTaskRequest) (*cloudtaskspb.Task, error) {
		return client.CreateTask(ctx, req)
	}, logger)
	q.client = client
	return q, nil
}

func newCloudTasks(cfg CloudTasksConfig, create createTaskFunc, logger zerolog.Logger) *CloudTasks {
	return &CloudTasks{
		cfg:    cfg,
		create: create,
		logger: logger.With().Str("component", "queue.cloudtasks").Str("queue", cfg.QueueID).Logger(),
	}
}

// Name implements Queue.
func (q *CloudTasks) Name() string { return "cloudtasks" }

// Enqueue creates a task and returns its server-assigned name.
func (q *CloudTasks) Enqueue(ctx context.Context, name string, payload map[string]any) (string, error) {
	req, err := q.request(name, payload)
	if err != nil {
		return "", err
	}
	task, err := q.create(ctx, req)
	if err != nil {
		return "", serrors.Unavailable("queue", fmt.Errorf("creating %s task: %w", name, err))
	}
	q.logger.Info().Str("task", name).Str("task_name", task.GetName()).Msg("Task enqueued")
	return task.GetName(), nil
}

func (q *CloudTasks) request(name string, payload map[string]any) (*cloudtaskspb.CreateTaskRequest, error) {
	body, err := Encode(name, payload)
	if err != nil {
		return nil, err
	}
	httpReq := &cloudtaskspb.HttpRequest{
		HttpMethod: cloudtaskspb.HttpMethod_POST,
		Url:        q.cfg.TargetURL,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
	if q.cfg.ServiceAccountEmail != "" {
		httpReq.AuthorizationHeader = &cloudtaskspb.HttpRequest_OidcToken{
			OidcToken: &cloudtaskspb.OidcToken{ServiceAccountEmail: q.cfg.ServiceAccountEmail},
		}
	}
	return &cloudtaskspb.CreateTaskRequest{
		Parent: q.cfg.Parent(),
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{HttpRequest: httpReq},
		},
	}, nil
}

// Close releases the underlying client.
func (q *CloudTasks) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}
