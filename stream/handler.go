// Package stream turns the DynamoDB stream of a store table into store
// changes: it propagates soft deletes to children and tells the backend
// which paths changed so its listeners refresh.
package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
	"github.com/jacentio/trellis/store"
)

// Sink receives the changes decoded from a batch. *store.Backend
// implements it.
type Sink interface {
	Notify(ctx context.Context, changes ...store.Change) error
}

// Cascader propagates a soft delete to the children of a path.
// *store.Backend implements it.
type Cascader interface {
	CascadeRemove(ctx context.Context, path string, ttl int64) (int, error)
}

// Handler processes DynamoDB stream events.
type Handler struct {
	sink     Sink
	cascader Cascader
	logger   *logrus.Entry
}

// NewHandler creates a new stream handler. Either sink or cascader may be
// nil to skip that step.
func NewHandler(sink Sink, cascader Cascader, logger *logrus.Entry) *Handler {
	return &Handler{
		sink:     sink,
		cascader: cascader,
		logger:   logging.OrDefault(logger, "stream"),
	}
}

// HandleEvent processes one batch of stream records. It is designed to be
// used as an AWS Lambda handler: a returned error makes the batch retry,
// eventually landing in the DLQ.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	changes := make([]store.Change, 0, len(event.Records))
	for _, record := range event.Records {
		change, ok, err := h.processRecord(ctx, record)
		if err != nil {
			h.logger.WithError(err).WithField("eventID", record.EventID).Error("failed to process record")
			return err // Will retry, eventually DLQ
		}
		if ok {
			changes = append(changes, change)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"records": len(event.Records),
		"changes": len(changes),
	}).Info("stream batch processed")

	if h.sink == nil {
		return nil
	}
	if err := h.sink.Notify(ctx, changes...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// processRecord decodes a record and runs the cascade for soft deletes.
// Records that do not describe a node are logged and skipped.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) (store.Change, bool, error) {
	change, err := Decode(record)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"eventID":   record.EventID,
			"eventName": record.EventName,
			"key":       getStringAttr(record.Change.Keys, "sk"),
		}).Error("skipping invalid record")
		return store.Change{}, false, nil
	}

	if change.Deleted && h.cascader != nil {
		h.logger.WithFields(logrus.Fields{
			"path": change.Path,
			"ttl":  change.TTL,
		}).Info("processing cascade delete")

		// Set the same TTL on all children (triggers their cascade via stream)
		n, err := h.cascader.CascadeRemove(ctx, change.Path, change.TTL)
		switch {
		case err != nil && n == 0:
			return store.Change{}, false, fmt.Errorf("cascade %s: %w", change.Path, err)
		case err != nil:
			// Continue - idempotent, the failed children are retried when
			// this node's record is redelivered or their own TTL is set
			h.logger.WithError(err).WithField("path", change.Path).Warn("cascade incomplete")
		}

		h.logger.WithFields(logrus.Fields{
			"path":              change.Path,
			"childrenProcessed": n,
		}).Info("cascade delete completed")
	}
	return change, true, nil
}

// Decode converts a stream record of the node table into a change.
func Decode(record events.DynamoDBEventRecord) (store.Change, error) {
	var op store.Op
	image := record.Change.NewImage
	switch record.EventName {
	case string(store.OpInsert):
		op = store.OpInsert
	case string(store.OpModify):
		op = store.OpModify
	case string(store.OpRemove):
		op = store.OpRemove
		image = record.Change.OldImage
	default:
		return store.Change{}, fmt.Errorf("unknown event %q", record.EventName)
	}

	node, err := store.UnmarshalNode(ConvertStreamImage(image))
	if err != nil {
		return store.Change{}, err
	}

	change := store.Change{Op: op, Path: node.Path}
	switch op {
	case store.OpRemove:
	case store.OpModify:
		oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
		newTTL := getNumberAttr(record.Change.NewImage, "ttl")

		// Only a newly set TTL (was absent/0, now present) is a delete
		if oldTTL == 0 && newTTL != 0 {
			change.Deleted = true
			change.TTL = newTTL
			break
		}
		if newTTL == 0 {
			change.Value = node.Value
		}
	default:
		if newTTL := getNumberAttr(image, "ttl"); newTTL == 0 {
			change.Value = node.Value
		}
	}
	return change, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
