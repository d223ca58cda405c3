package store

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo records the last request of each kind.
type fakeDynamo struct {
	getOut *dynamodb.GetItemOutput
	putErr error
	updErr error

	put    *dynamodb.PutItemInput
	update *dynamodb.UpdateItemInput
	query  *dynamodb.QueryInput
	pages  []*dynamodb.QueryOutput
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	return &dynamodb.UpdateItemOutput{}, f.updErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.query = in
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func TestBuildUpdateRendersArrayUnionAsListAppend(t *testing.T) {
	in, err := buildUpdate("docs", "sensor/a/data", "20240101", map[string]any{
		"averageTemperature": 21.5,
		"data":               ArrayUnion{map[string]any{"t": 21.0}},
	})
	require.NoError(t, err)

	require.Equal(t, "SET #f0 = :v0, #f1 = list_append(if_not_exists(#f1, :empty), :v1)", aws.ToString(in.UpdateExpression))
	require.Equal(t, "averageTemperature", in.ExpressionAttributeNames["#f0"])
	require.Equal(t, "data", in.ExpressionAttributeNames["#f1"])
	require.IsType(t, &types.AttributeValueMemberL{}, in.ExpressionAttributeValues[":v1"])
	require.Contains(t, in.ExpressionAttributeValues, ":empty")
	require.Equal(t, &types.AttributeValueMemberS{Value: "20240101"}, in.Key[attrID])
}

func TestCreateMapsConditionFailureToAlreadyExists(t *testing.T) {
	api := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	s := NewDynamoStoreWithClient(api, "docs")

	err := s.Create(context.Background(), "sensor/a", map[string]any{"name": "lab"})
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, "attribute_not_exists(#id)", aws.ToString(api.put.ConditionExpression))
	require.Equal(t, &types.AttributeValueMemberS{Value: "sensor"}, api.put.Item[attrCollection])
}

func TestUpdateMapsConditionFailureToNotFound(t *testing.T) {
	api := &fakeDynamo{updErr: &types.ConditionalCheckFailedException{Message: aws.String("missing")}}
	s := NewDynamoStoreWithClient(api, "docs")

	err := s.Update(context.Background(), "users/a", map[string]any{"lastAlertTime": int64(5)})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "attribute_exists(#id)", aws.ToString(api.update.ConditionExpression))
}

func TestGetMissingItemIsNotFound(t *testing.T) {
	s := NewDynamoStoreWithClient(&fakeDynamo{}, "docs")
	_, err := s.Get(context.Background(), "sensor/a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueryBuildsFilterAndStripsKeys(t *testing.T) {
	api := &fakeDynamo{pages: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{{
			attrCollection: &types.AttributeValueMemberS{Value: "users"},
			attrID:         &types.AttributeValueMemberS{Value: "a@b.c"},
			"temperature":  &types.AttributeValueMemberN{Value: "28"},
		}},
	}}}
	s := NewDynamoStoreWithClient(api, "docs")

	docs, err := s.Query(context.Background(), "users",
		Where("temperature", OpLessEqual, 30.0),
		Where("sendAlerts", OpEqual, true),
	)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "a@b.c", docs[0].ID)
	require.Equal(t, "users/a@b.c", docs[0].Path)
	require.NotContains(t, docs[0].Fields, attrID)

	v, ok := docs[0].Float("temperature")
	require.True(t, ok)
	require.Equal(t, 28.0, v)

	require.Equal(t, "#q0 <= :q0 AND #q1 = :q1", aws.ToString(api.query.FilterExpression))
}
