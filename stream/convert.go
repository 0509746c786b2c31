package stream

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// ConvertStreamKey converts a DynamoDB stream key to a DynamoDB key.
// Use this when you need to convert keys from stream records to store operations.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	return ConvertStreamImage(streamKey)
}

// ConvertStreamImage converts a Lambda stream image to DynamoDB attribute
// values.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := ConvertStreamValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

// ConvertStreamValue converts one Lambda stream attribute value. It
// returns nil for values of unknown type.
func ConvertStreamValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, e := range list {
			if av := ConvertStreamValue(e); av != nil {
				out = append(out, av)
			}
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}

// fromStreamsImage converts an image read through the DynamoDB Streams
// API into the Lambda event form, so polled and pushed records share one
// decoder.
func fromStreamsImage(image map[string]streamtypes.AttributeValue) map[string]events.DynamoDBAttributeValue {
	if image == nil {
		return nil
	}
	result := make(map[string]events.DynamoDBAttributeValue, len(image))
	for k, v := range image {
		if ev, ok := fromStreamsValue(v); ok {
			result[k] = ev
		}
	}
	return result
}

func fromStreamsValue(v streamtypes.AttributeValue) (events.DynamoDBAttributeValue, bool) {
	switch t := v.(type) {
	case *streamtypes.AttributeValueMemberS:
		return events.NewStringAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberN:
		return events.NewNumberAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberB:
		return events.NewBinaryAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberNULL:
		return events.NewNullAttribute(), true
	case *streamtypes.AttributeValueMemberSS:
		return events.NewStringSetAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(t.Value), true
	case *streamtypes.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, 0, len(t.Value))
		for _, e := range t.Value {
			if ev, ok := fromStreamsValue(e); ok {
				list = append(list, ev)
			}
		}
		return events.NewListAttribute(list), true
	case *streamtypes.AttributeValueMemberM:
		return events.NewMapAttribute(fromStreamsImage(t.Value)), true
	}
	return events.DynamoDBAttributeValue{}, false
}
