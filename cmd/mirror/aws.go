package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"

	"github.com/jacentio/trellis/config"
)

type awsClients struct {
	dynamo  *dynamodb.Client
	streams *dynamodbstreams.Client
}

// newAWSClients loads the shared AWS configuration, narrowed by the
// profile and region of d. A non-empty endpoint points both clients at a
// local DynamoDB.
func newAWSClients(ctx context.Context, d config.DynamoDB) (*awsClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if d.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(d.Profile))
	}
	if d.Region != "" {
		opts = append(opts, awsconfig.WithRegion(d.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &awsClients{
		dynamo: dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if d.Endpoint != "" {
				o.BaseEndpoint = aws.String(d.Endpoint)
			}
		}),
		streams: dynamodbstreams.NewFromConfig(cfg, func(o *dynamodbstreams.Options) {
			if d.Endpoint != "" {
				o.BaseEndpoint = aws.String(d.Endpoint)
			}
		}),
	}, nil
}
