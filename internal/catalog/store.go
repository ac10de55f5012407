package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
)

const (
	rolePrefix = "ROLE#"
	itemPrefix = "ITEM#"
)

func restaurantKey(restaurantID string) string { return "RESTAURANT#" + restaurantID }

// Store reads roles and menu items from a single DynamoDB table keyed
// pk = RESTAURANT#<id>, sk = ROLE#<id> | ITEM#<id>.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) GetRole(ctx context.Context, restaurantID, roleID string) (*Role, error) {
	var r Role
	if err := s.get(ctx, restaurantID, rolePrefix+roleID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoles returns the roles of a restaurant ordered by creation time.
func (s *Store) ListRoles(ctx context.Context, restaurantID string) ([]Role, error) {
	var roles []Role
	if err := s.query(ctx, restaurantID, rolePrefix, &roles); err != nil {
		return nil, err
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].ID < roles[j].ID
		}
		return roles[i].CreatedAt.Before(roles[j].CreatedAt)
	})
	return roles, nil
}

func (s *Store) GetMenuItem(ctx context.Context, restaurantID, itemID string) (*MenuItem, error) {
	var m MenuItem
	if err := s.get(ctx, restaurantID, itemPrefix+itemID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	var items []MenuItem
	if err := s.query(ctx, restaurantID, itemPrefix, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) get(ctx context.Context, restaurantID, sk string, out interface{}) error {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: restaurantKey(restaurantID)},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("get catalog item: %w", err)
	}
	if len(res.Item) == 0 {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal catalog item: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, restaurantID, prefix string, out interface{}) error {
	var (
		all   []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: restaurantKey(restaurantID)},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return fmt.Errorf("query catalog: %w", err)
		}
		all = append(all, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		start = res.LastEvaluatedKey
	}
	if err := attributevalue.UnmarshalListOfMaps(all, out); err != nil {
		return fmt.Errorf("unmarshal catalog items: %w", err)
	}
	return nil
}

// RoleItem returns the DynamoDB representation of a role.
func RoleItem(r Role) (map[string]types.AttributeValue, error) {
	return withKeys(r, r.RestaurantID, rolePrefix+r.ID)
}

// MenuItemItem returns the DynamoDB representation of a menu item.
func MenuItemItem(m MenuItem) (map[string]types.AttributeValue, error) {
	return withKeys(m, m.RestaurantID, itemPrefix+m.ID)
}

func withKeys(v interface{}, restaurantID, sk string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, err
	}
	item["pk"] = &types.AttributeValueMemberS{Value: restaurantKey(restaurantID)}
	item["sk"] = &types.AttributeValueMemberS{Value: sk}
	return item, nil
}

func awsString(s string) *string { return &s }
