package receivers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/message"
)

// sqsAPI is the subset of the SQS client this receiver calls, narrowed so
// tests can substitute a fake.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSInitOptions configures the queue client. Endpoint/AccessKey/SecretKey
// are for LocalStack or other SQS-compatible endpoints in development and
// tests; production deployments leave them empty and rely on the
// standard AWS credential chain.
type SQSInitOptions struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

func (SQSInitOptions) Validate() error { return nil }

// SQSCallOptions carries the per-stream destination queue.
type SQSCallOptions struct {
	QueueURL string `mapstructure:"queue_url"`
}

func (o *SQSCallOptions) Validate() error {
	if o.QueueURL == "" {
		return fmt.Errorf("queue_url is required")
	}
	return nil
}

type sqsReceiver struct {
	client sqsAPI
}

func newSQSReceiver(ctx context.Context, initOpts handler.Options) (handler.Handler, error) {
	opts, ok := initOpts.(*SQSInitOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/sqs: unexpected init options type %T", initOpts)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("receivers/sqs: loading aws config: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	return &sqsReceiver{client: sqs.NewFromConfig(awsCfg, clientOpts...)}, nil
}

func (r *sqsReceiver) Call(ctx context.Context, callOptions handler.Options, payload any) (any, error) {
	opts, ok := callOptions.(*SQSCallOptions)
	if !ok {
		return nil, fmt.Errorf("receivers/sqs: unexpected options type %T", callOptions)
	}
	messages, ok := payload.([]message.Message)
	if !ok {
		return nil, fmt.Errorf("receivers/sqs: unexpected payload type %T", payload)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("receivers/sqs: marshaling payload: %w", err)
	}

	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(opts.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return nil, fmt.Errorf("receivers/sqs: sending to %s: %w", opts.QueueURL, err)
	}
	return nil, nil
}

func init() {
	handler.Register(handler.Registration{
		Kind:           handler.KindReceiver,
		Name:           "sqs",
		NewInitOptions: func() handler.Options { return &SQSInitOptions{} },
		Construct:      newSQSReceiver,
		NewCallOptions: func() handler.Options { return &SQSCallOptions{} },
	})
}
