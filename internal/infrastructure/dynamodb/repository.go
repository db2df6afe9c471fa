package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/aws/aws-xray-sdk-go/xray"

	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

// API is the subset of the DynamoDB client the repositories call.
type API interface {
	GetItem(ctx context.Context, params *awsv2dynamodb.GetItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *awsv2dynamodb.PutItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *awsv2dynamodb.UpdateItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *awsv2dynamodb.QueryInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *awsv2dynamodb.ScanInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *awsv2dynamodb.TransactWriteItemsInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error)
}

type Client struct {
	db        API
	tableName string
}

func NewClient(ctx context.Context, region, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	client := awsv2dynamodb.NewFromConfig(cfg)
	return &Client{db: client, tableName: tableName}, nil
}

func NewWithAPI(api API, tableName string) *Client {
	return &Client{db: api, tableName: tableName}
}

func (c *Client) Users() ports.UserRepository             { return &UserRepository{client: c} }
func (c *Client) Roles() ports.RoleRepository             { return &RoleRepository{client: c} }
func (c *Client) Permissions() ports.PermissionRepository { return &PermissionRepository{client: c} }

const (
	metaSK         = "META"
	rolesPK        = "ROLES"
	permissionsPK  = "PERMISSIONS"
	entityUser     = "USER"
	entityEmail    = "EMAIL"
	entityRole     = "ROLE"
	entityPerm     = "PERMISSION"
	conditionFirst = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

func userPK(userID string) string { return "USER#" + userID }
func emailPK(email string) string { return "EMAIL#" + email }
func roleSK(name string) string   { return "ROLE#" + name }
func permSK(code string) string   { return "PERM#" + code }

func key(pk, sk string) map[string]awsv2types.AttributeValue {
	return map[string]awsv2types.AttributeValue{
		"PK": &awsv2types.AttributeValueMemberS{Value: pk},
		"SK": &awsv2types.AttributeValueMemberS{Value: sk},
	}
}

// parseTimestamp reads the RFC 3339 CreatedAt attribute. Items without one
// predate the attribute and get the zero time.
func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt CreatedAt %q: %w", v, err)
	}
	return t, nil
}

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// cancelledAt reports which transaction items failed their condition.
func cancelledAt(err error) []int {
	var txErr *awsv2types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil
	}
	var idx []int
	for i, reason := range txErr.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			idx = append(idx, i)
		}
	}
	return idx
}

type userItem struct {
	PK           string   `dynamodbav:"PK"`
	SK           string   `dynamodbav:"SK"`
	EntityType   string   `dynamodbav:"EntityType"`
	ID           string   `dynamodbav:"ID"`
	Email        string   `dynamodbav:"Email"`
	PasswordHash string   `dynamodbav:"PasswordHash"`
	FullName     string   `dynamodbav:"FullName,omitempty"`
	IsActive     bool     `dynamodbav:"IsActive"`
	CreatedAt    string   `dynamodbav:"CreatedAt"`
	Roles        []string `dynamodbav:"Roles,stringset,omitempty"`
}

type emailItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	UserID     string `dynamodbav:"UserID"`
}

type roleItem struct {
	PK          string   `dynamodbav:"PK"`
	SK          string   `dynamodbav:"SK"`
	EntityType  string   `dynamodbav:"EntityType"`
	ID          string   `dynamodbav:"ID"`
	Name        string   `dynamodbav:"Name"`
	Permissions []string `dynamodbav:"Permissions,stringset,omitempty"`
}

type permissionItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	EntityType  string `dynamodbav:"EntityType"`
	ID          string `dynamodbav:"ID"`
	Code        string `dynamodbav:"Code"`
	Description string `dynamodbav:"Description,omitempty"`
	CreatedAt   string `dynamodbav:"CreatedAt"`
}

func (i roleItem) toDomain() domain.Role {
	perms := slices.Clone(i.Permissions)
	if perms == nil {
		perms = []string{}
	}
	slices.Sort(perms)
	return domain.Role{ID: i.ID, Name: i.Name, Permissions: perms}
}

type UserRepository struct{ client *Client }

type RoleRepository struct{ client *Client }

type PermissionRepository struct{ client *Client }

// Create writes the user and its email guard in one transaction so two
// registrations for the same address cannot both succeed.
func (r *UserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	userAV, err := attributevalue.MarshalMap(userItem{
		PK:           userPK(user.ID),
		SK:           metaSK,
		EntityType:   entityUser,
		ID:           user.ID,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		FullName:     user.FullName,
		IsActive:     user.IsActive,
		CreatedAt:    user.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.User{}, err
	}
	emailAV, err := attributevalue.MarshalMap(emailItem{
		PK:         emailPK(user.Email),
		SK:         metaSK,
		EntityType: entityEmail,
		UserID:     user.ID,
	})
	if err != nil {
		return domain.User{}, err
	}

	err = xray.Capture(ctx, "DynamoDB.CreateUser", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: []awsv2types.TransactWriteItem{
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                userAV,
					ConditionExpression: aws.String(conditionFirst),
				}},
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                emailAV,
					ConditionExpression: aws.String(conditionFirst),
				}},
			},
		})
		return err
	})
	if failed := cancelledAt(err); len(failed) > 0 {
		if slices.Contains(failed, 1) {
			return domain.User{}, domain.ErrDuplicateEmail
		}
		return domain.User{}, domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.User{}, err
	}
	user.Roles = []domain.Role{}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (domain.User, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetUser", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      aws.String(r.client.tableName),
			Key:            key(userPK(userID), metaSK),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return domain.User{}, err
	}
	if out.Item == nil {
		return domain.User{}, domain.ErrNotFound
	}
	var raw userItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.User{}, err
	}
	createdAt, err := parseTimestamp(raw.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %s: %w", raw.ID, err)
	}
	user := domain.User{
		ID:           raw.ID,
		Email:        raw.Email,
		PasswordHash: raw.PasswordHash,
		FullName:     raw.FullName,
		IsActive:     raw.IsActive,
		CreatedAt:    createdAt,
		Roles:        []domain.Role{},
	}
	if len(raw.Roles) == 0 {
		return user, nil
	}

	roles, err := r.client.Roles().List(ctx)
	if err != nil {
		return domain.User{}, err
	}
	for _, role := range roles {
		if slices.Contains(raw.Roles, role.Name) {
			user.Roles = append(user.Roles, role)
		}
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetUserByEmail", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      aws.String(r.client.tableName),
			Key:            key(emailPK(email), metaSK),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return domain.User{}, err
	}
	if out.Item == nil {
		return domain.User{}, domain.ErrNotFound
	}
	var raw emailItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.User{}, err
	}
	return r.GetByID(ctx, raw.UserID)
}

func (r *UserRepository) AssignRole(ctx context.Context, userID, roleName string) error {
	if _, err := r.client.Roles().GetByName(ctx, roleName); err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.AssignRole", func(ctx context.Context) error {
		_, err := r.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:           aws.String(r.client.tableName),
			Key:                 key(userPK(userID), metaSK),
			UpdateExpression:    aws.String("ADD #r :r"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{
				"#r": "Roles",
			},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":r": &awsv2types.AttributeValueMemberSS{Value: []string{roleName}},
			},
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	total := 0
	var startKey map[string]awsv2types.AttributeValue
	for {
		var out *awsv2dynamodb.ScanOutput
		err := xray.Capture(ctx, "DynamoDB.CountUsers", func(ctx context.Context) error {
			var e error
			out, e = r.client.db.Scan(ctx, &awsv2dynamodb.ScanInput{
				TableName:         aws.String(r.client.tableName),
				Select:            awsv2types.SelectCount,
				FilterExpression:  aws.String("EntityType = :t"),
				ExclusiveStartKey: startKey,
				ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
					":t": &awsv2types.AttributeValueMemberS{Value: entityUser},
				},
			})
			return e
		})
		if err != nil {
			return 0, err
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	av, err := attributevalue.MarshalMap(roleItem{
		PK:          rolesPK,
		SK:          roleSK(role.Name),
		EntityType:  entityRole,
		ID:          role.ID,
		Name:        role.Name,
		Permissions: role.Permissions,
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutRole", func(ctx context.Context) error {
		_, err = r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String(conditionFirst),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (domain.Role, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetRole", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      aws.String(r.client.tableName),
			Key:            key(rolesPK, roleSK(name)),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return domain.Role{}, err
	}
	if out.Item == nil {
		return domain.Role{}, domain.ErrNotFound
	}
	var raw roleItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Role{}, err
	}
	return raw.toDomain(), nil
}

func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	items, err := r.client.queryPartition(ctx, "DynamoDB.QueryRoles", rolesPK, "ROLE#")
	if err != nil {
		return nil, err
	}
	roles := make([]domain.Role, 0, len(items))
	for _, item := range items {
		var raw roleItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		roles = append(roles, raw.toDomain())
	}
	return roles, nil
}

func (r *RoleRepository) GrantPermission(ctx context.Context, roleName, code string) error {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetPermission", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       key(permissionsPK, permSK(code)),
		})
		return e
	})
	if err != nil {
		return err
	}
	if out.Item == nil {
		return domain.ErrNotFound
	}

	return xray.Capture(ctx, "DynamoDB.GrantPermission", func(ctx context.Context) error {
		_, err := r.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:           aws.String(r.client.tableName),
			Key:                 key(rolesPK, roleSK(roleName)),
			UpdateExpression:    aws.String("ADD #p :p"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{
				"#p": "Permissions",
			},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":p": &awsv2types.AttributeValueMemberSS{Value: []string{code}},
			},
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	av, err := attributevalue.MarshalMap(permissionItem{
		PK:          permissionsPK,
		SK:          permSK(permission.Code),
		EntityType:  entityPerm,
		ID:          permission.ID,
		Code:        permission.Code,
		Description: permission.Description,
		CreatedAt:   permission.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutPermission", func(ctx context.Context) error {
		_, err = r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String(conditionFirst),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
}

func (r *PermissionRepository) List(ctx context.Context) ([]domain.Permission, error) {
	items, err := r.client.queryPartition(ctx, "DynamoDB.QueryPermissions", permissionsPK, "PERM#")
	if err != nil {
		return nil, err
	}
	permissions := make([]domain.Permission, 0, len(items))
	for _, item := range items {
		var raw permissionItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		createdAt, err := parseTimestamp(raw.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("permission %s: %w", raw.Code, err)
		}
		permissions = append(permissions, domain.Permission{ID: raw.ID, Code: raw.Code, Description: raw.Description, CreatedAt: createdAt})
	}
	return permissions, nil
}

func (c *Client) queryPartition(ctx context.Context, segment, pk, prefix string) ([]map[string]awsv2types.AttributeValue, error) {
	var (
		items    []map[string]awsv2types.AttributeValue
		startKey map[string]awsv2types.AttributeValue
	)
	for {
		var out *awsv2dynamodb.QueryOutput
		err := xray.Capture(ctx, segment, func(ctx context.Context) error {
			var e error
			out, e = c.db.Query(ctx, &awsv2dynamodb.QueryInput{
				TableName:              aws.String(c.tableName),
				KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
				ExclusiveStartKey:      startKey,
				ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
					":pk": &awsv2types.AttributeValueMemberS{Value: pk},
					":sk": &awsv2types.AttributeValueMemberS{Value: prefix},
				},
			})
			return e
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
