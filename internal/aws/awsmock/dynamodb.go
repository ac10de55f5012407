// Package awsmock contains small in-memory fakes of the AWS clients used in tests.
// Expression support covers only what the stores in this module issue.
package awsmock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type keySchema struct {
	hash  string
	rng   string
	index map[string]keySchema
}

// DynamoDB stores items per table: table -> primary key -> item.
type DynamoDB struct {
	mu      sync.Mutex
	schemas map[string]keySchema
	Tables  map[string]map[string]map[string]types.AttributeValue

	// PageSize > 0 splits Query results into pages of that size.
	PageSize int
	// Err, when set, is returned by every call.
	Err error

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	QueryCalls    int
	TransactCalls int
}

func NewDynamoDB() *DynamoDB {
	return &DynamoDB{
		schemas: map[string]keySchema{},
		Tables:  map[string]map[string]map[string]types.AttributeValue{},
	}
}

// WithTable declares the key attributes of a table. Undeclared tables are keyed by "id".
func (m *DynamoDB) WithTable(name, hashKey, rangeKey string) *DynamoDB {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[name] = keySchema{hash: hashKey, rng: rangeKey, index: map[string]keySchema{}}
	m.ensureTable(name)
	return m
}

// WithIndex declares a secondary index of a table.
func (m *DynamoDB) WithIndex(table, index, hashKey, rangeKey string) *DynamoDB {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.schema(table)
	s.index[index] = keySchema{hash: hashKey, rng: rangeKey}
	m.schemas[table] = s
	return m
}

// Items returns a copy of the items stored in a table.
func (m *DynamoDB) Items(table string) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]types.AttributeValue, 0, len(m.Tables[table]))
	for _, it := range m.Tables[table] {
		out = append(out, copyItem(it))
	}
	return out
}

// Count returns the number of items in a table.
func (m *DynamoDB) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Tables[table])
}

// Seed writes an item without evaluating any condition.
func (m *DynamoDB) Seed(table string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTable(table)
	m.Tables[table][m.primaryKey(table, item)] = copyItem(item)
}

func (m *DynamoDB) schema(table string) keySchema {
	s, ok := m.schemas[table]
	if !ok {
		s = keySchema{hash: "id", index: map[string]keySchema{}}
	}
	return s
}

func (m *DynamoDB) ensureTable(tbl string) {
	if _, ok := m.Tables[tbl]; !ok {
		m.Tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

func (m *DynamoDB) primaryKey(table string, item map[string]types.AttributeValue) string {
	s := m.schema(table)
	k := scalar(item[s.hash])
	if s.rng != "" {
		k += "|" + scalar(item[s.rng])
	}
	return k
}

func (m *DynamoDB) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	m.ensureTable(table)
	pk := m.primaryKey(table, params.Item)
	existing := m.Tables[table][pk]
	if !conditionHolds(params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	m.Tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *DynamoDB) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	m.ensureTable(table)
	item, ok := m.Tables[table][m.primaryKey(table, params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *DynamoDB) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	m.ensureTable(table)
	pk := m.primaryKey(table, params.Key)
	item, exists := m.Tables[table][pk]
	if !exists {
		if params.ConditionExpression != nil {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("item not found")}
		}
		return nil, errors.New("item not found")
	}
	if !conditionHolds(params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	updated := copyItem(item)
	if params.UpdateExpression != nil {
		expr := strings.TrimSpace(*params.UpdateExpression)
		expr = strings.TrimPrefix(expr, "SET ")
		for _, assign := range strings.Split(expr, ",") {
			parts := strings.SplitN(assign, "=", 2)
			if len(parts) != 2 {
				continue
			}
			name := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
			if v, ok := params.ExpressionAttributeValues[strings.TrimSpace(parts[1])]; ok {
				updated[name] = v
			}
		}
	}
	m.Tables[table][pk] = updated
	return &dyn.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

func (m *DynamoDB) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	table := *params.TableName
	m.ensureTable(table)
	s := m.schema(table)
	if params.IndexName != nil {
		idx, ok := s.index[*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("unknown index %s", *params.IndexName)
		}
		s = idx
	}

	var matched []map[string]types.AttributeValue
	for _, item := range m.Tables[table] {
		if keyConditionHolds(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			matched = append(matched, copyItem(item))
		}
	}

	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.SliceStable(matched, func(i, j int) bool {
		less := compareScalar(matched[i][s.rng], matched[j][s.rng]) < 0
		if forward {
			return less
		}
		return compareScalar(matched[j][s.rng], matched[i][s.rng]) < 0
	})

	offset := 0
	if v, ok := params.ExclusiveStartKey["_offset"].(*types.AttributeValueMemberN); ok {
		offset, _ = strconv.Atoi(v.Value)
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]

	out := &dyn.QueryOutput{}
	if m.PageSize > 0 && len(matched) > m.PageSize {
		matched = matched[:m.PageSize]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"_offset": &types.AttributeValueMemberN{Value: strconv.Itoa(offset + m.PageSize)},
		}
	}
	out.Items = matched
	out.Count = int32(len(matched))
	return out, nil
}

func (m *DynamoDB) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransactCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	// First pass: verify condition expressions
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			m.ensureTable(table)
			existing := m.Tables[table][m.primaryKey(table, p.Item)]
			if !conditionHolds(p.ConditionExpression, existing, p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
				return nil, &types.TransactionCanceledException{Message: strPtr("transaction cancelled")}
			}
		}
	}
	// Second pass: apply all puts
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			m.Tables[table][m.primaryKey(table, p.Item)] = copyItem(p.Item)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// conditionHolds understands "attribute_not_exists(x)" and "#a = :b" (optionally joined by AND).
func conditionHolds(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil || *expr == "" {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists("):
			if item != nil {
				return false
			}
		case strings.HasPrefix(clause, "attribute_exists("):
			if item == nil {
				return false
			}
		case strings.Contains(clause, "="):
			parts := strings.SplitN(clause, "=", 2)
			name := resolveName(strings.TrimSpace(parts[0]), names)
			want := values[strings.TrimSpace(parts[1])]
			if item == nil || scalar(item[name]) != scalar(want) {
				return false
			}
		}
	}
	return true
}

// keyConditionHolds understands "a = :b" and "begins_with(a, :b)" joined by AND.
func keyConditionHolds(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		if strings.HasPrefix(clause, "begins_with(") {
			inner := strings.TrimSuffix(strings.TrimPrefix(clause, "begins_with("), ")")
			parts := strings.SplitN(inner, ",", 2)
			name := resolveName(strings.TrimSpace(parts[0]), names)
			prefix := scalar(values[strings.TrimSpace(parts[1])])
			if !strings.HasPrefix(scalar(item[name]), prefix) {
				return false
			}
			continue
		}
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return false
		}
		name := resolveName(strings.TrimSpace(parts[0]), names)
		if scalar(item[name]) != scalar(values[strings.TrimSpace(parts[1])]) {
			return false
		}
	}
	return true
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if real, ok := names[name]; ok {
			return real
		}
	}
	return name
}

func scalar(v types.AttributeValue) string {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value
	case *types.AttributeValueMemberN:
		return t.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(t.Value)
	default:
		return ""
	}
}

func compareScalar(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		af, _ := strconv.ParseFloat(an.Value, 64)
		bf, _ := strconv.ParseFloat(bn.Value, 64)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(scalar(a), scalar(b))
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	if in == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
