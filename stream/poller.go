package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
)

// StreamsAPI is the subset of *dynamodbstreams.Client the poller uses.
type StreamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

var _ StreamsAPI = (*dynamodbstreams.Client)(nil)

// DefaultPollInterval is used when a Poller is given no interval.
const DefaultPollInterval = time.Second

// Poller tails a table stream outside Lambda and feeds every batch to a
// Handler.
type Poller struct {
	client   StreamsAPI
	arn      string
	interval time.Duration
	handler  *Handler
	logger   *logrus.Entry

	// iterators holds the current iterator of every open shard.
	iterators map[string]*string
	// seen remembers shards that were started, closed ones included.
	seen map[string]bool
}

// NewPoller creates a poller for the stream with the given ARN.
func NewPoller(client StreamsAPI, streamARN string, interval time.Duration, handler *Handler, logger *logrus.Entry) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:    client,
		arn:       streamARN,
		interval:  interval,
		handler:   handler,
		logger:    logging.OrDefault(logger, "stream-poller"),
		iterators: make(map[string]*string),
		seen:      make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. Shards open at start are read from
// their latest record; shards appearing later are read from the start.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.discover(ctx, streamtypes.ShardIteratorTypeLatest); err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"stream": p.arn,
		"shards": len(p.iterators),
	}).Info("polling stream")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.WithError(err).Warn("stream poll failed")
		}
	}
}

// Poll reads every open shard once.
func (p *Poller) Poll(ctx context.Context) error {
	closed := false
	for shardID, iterator := range p.iterators {
		out, err := p.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iterator})
		if err != nil {
			return fmt.Errorf("get records %s: %w", shardID, err)
		}

		if len(out.Records) > 0 {
			if err := p.handler.HandleEvent(ctx, toEvent(out.Records)); err != nil {
				// keep the iterator so the batch is read again
				return err
			}
		}

		if out.NextShardIterator == nil {
			p.logger.WithField("shard", shardID).Debug("shard closed")
			delete(p.iterators, shardID)
			closed = true
			continue
		}
		p.iterators[shardID] = out.NextShardIterator
	}

	if closed {
		return p.discover(ctx, streamtypes.ShardIteratorTypeTrimHorizon)
	}
	return nil
}

// discover starts an iterator for every open shard not seen before.
func (p *Poller) discover(ctx context.Context, start streamtypes.ShardIteratorType) error {
	var exclusiveStart *string
	for {
		out, err := p.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(p.arn),
			ExclusiveStartShardId: exclusiveStart,
		})
		if err != nil {
			return fmt.Errorf("describe stream: %w", err)
		}
		desc := out.StreamDescription
		if desc == nil {
			return nil
		}

		for _, shard := range desc.Shards {
			id := aws.ToString(shard.ShardId)
			if p.seen[id] {
				continue
			}
			if shard.SequenceNumberRange != nil && shard.SequenceNumberRange.EndingSequenceNumber != nil && start == streamtypes.ShardIteratorTypeLatest {
				// closed before we started, nothing new will arrive on it
				p.seen[id] = true
				continue
			}

			it, err := p.client.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
				StreamArn:         aws.String(p.arn),
				ShardId:           shard.ShardId,
				ShardIteratorType: start,
			})
			if err != nil {
				return fmt.Errorf("shard iterator %s: %w", id, err)
			}
			p.seen[id] = true
			if it.ShardIterator != nil {
				p.iterators[id] = it.ShardIterator
			}
		}

		if desc.LastEvaluatedShardId == nil {
			return nil
		}
		exclusiveStart = desc.LastEvaluatedShardId
	}
}

// Shards returns the number of shards being read.
func (p *Poller) Shards() int {
	return len(p.iterators)
}

func toEvent(records []streamtypes.Record) events.DynamoDBEvent {
	event := events.DynamoDBEvent{Records: make([]events.DynamoDBEventRecord, 0, len(records))}
	for _, r := range records {
		rec := events.DynamoDBEventRecord{
			EventID:     aws.ToString(r.EventID),
			EventName:   string(r.EventName),
			EventSource: aws.ToString(r.EventSource),
		}
		if d := r.Dynamodb; d != nil {
			rec.Change = events.DynamoDBStreamRecord{
				Keys:           fromStreamsImage(d.Keys),
				NewImage:       fromStreamsImage(d.NewImage),
				OldImage:       fromStreamsImage(d.OldImage),
				SequenceNumber: aws.ToString(d.SequenceNumber),
				StreamViewType: string(d.StreamViewType),
			}
		}
		event.Records = append(event.Records, rec)
	}
	return event
}
