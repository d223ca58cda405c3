package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var _ Store = (*DynamoStore)(nil)

// Key attributes of the single document table. The partition key holds the
// collection path and the sort key the document id.
const (
	attrCollection = "_collection"
	attrID         = "_id"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps every document in one DynamoDB table.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

// NewDynamoStore loads the default AWS configuration for region.
func NewDynamoStore(ctx context.Context, region, table string) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), table), nil
}

// NewDynamoStoreWithClient wraps an existing client.
func NewDynamoStoreWithClient(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

func documentKey(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrCollection: &types.AttributeValueMemberS{Value: collection},
		attrID:         &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            documentKey(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Document{}, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if out.Item == nil {
		return Document{}, ErrNotFound
	}

	fields, err := unmarshalItem(out.Item)
	if err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return Document{Path: path, ID: id, Fields: fields}, nil
}

func (s *DynamoStore) Create(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	item, err := marshalItem(collection, id, mergeFields(nil, fields))
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

func (s *DynamoStore) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	if !merge || len(fields) == 0 {
		item, err := marshalItem(collection, id, mergeFields(nil, fields))
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", path, err)
		}
		if merge {
			// An empty merge only has to make sure the document exists.
			_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                aws.String(s.table),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{"#id": attrID},
			})
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return nil
			}
		} else {
			_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(s.table),
				Item:      item,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
		return nil
	}

	input, err := buildUpdate(s.table, collection, id, fields)
	if err != nil {
		return fmt.Errorf("failed to build update for %s: %w", path, err)
	}
	if _, err := s.api.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		_, err := s.Get(ctx, path)
		return err
	}

	input, err := buildUpdate(s.table, collection, id, fields)
	if err != nil {
		return fmt.Errorf("failed to build update for %s: %w", path, err)
	}
	input.ConditionExpression = aws.String("attribute_exists(#id)")
	input.ExpressionAttributeNames["#id"] = attrID

	if _, err := s.api.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       documentKey(collection, id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s *DynamoStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	input, err := buildQuery(s.table, collection, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", collection, err)
	}

	var docs []Document
	paginator := dynamodb.NewQueryPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", collection, err)
		}
		for _, item := range page.Items {
			fields, err := unmarshalItem(item)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal item of %s: %w", collection, err)
			}
			idAttr, _ := item[attrID].(*types.AttributeValueMemberS)
			if idAttr == nil {
				continue
			}
			docs = append(docs, Document{
				Path:   Path(collection, idAttr.Value),
				ID:     idAttr.Value,
				Fields: fields,
			})
		}
	}
	sortDocuments(docs)
	return docs, nil
}

func marshalItem(collection, id string, fields map[string]any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, err
	}
	for k, v := range documentKey(collection, id) {
		item[k] = v
	}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (map[string]any, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return nil, err
	}
	delete(fields, attrCollection)
	delete(fields, attrID)
	return fields, nil
}

// buildUpdate renders fields as a SET expression. ArrayUnion values append
// to the stored list.
func buildUpdate(table, collection, id string, fields map[string]any) (*dynamodb.UpdateItemInput, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make(map[string]string, len(keys))
	values := make(map[string]types.AttributeValue, len(keys)+1)
	parts := make([]string, 0, len(keys))

	for i, k := range keys {
		name := fmt.Sprintf("#f%d", i)
		value := fmt.Sprintf(":v%d", i)
		names[name] = k

		if u, ok := fields[k].(ArrayUnion); ok {
			av, err := attributevalue.Marshal([]any(u))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			values[value] = av
			values[":empty"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
			parts = append(parts, fmt.Sprintf("%s = list_append(if_not_exists(%s, :empty), %s)", name, name, value))
			continue
		}

		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		values[value] = av
		parts = append(parts, fmt.Sprintf("%s = %s", name, value))
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       documentKey(collection, id),
		UpdateExpression:          aws.String("SET " + strings.Join(parts, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

var dynamoOps = map[Op]string{
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpEqual:        "=",
	OpGreaterEqual: ">=",
	OpGreater:      ">",
}

func buildQuery(table, collection string, filters []Filter) (*dynamodb.QueryInput, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{
			"#c": attrCollection,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead: aws.Bool(true),
	}

	conds := make([]string, 0, len(filters))
	for i, f := range filters {
		op, ok := dynamoOps[f.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		name := fmt.Sprintf("#q%d", i)
		value := fmt.Sprintf(":q%d", i)
		input.ExpressionAttributeNames[name] = f.Field
		input.ExpressionAttributeValues[value] = av
		conds = append(conds, fmt.Sprintf("%s %s %s", name, op, value))
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
	}
	return input, nil
}
