package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"identity-service/internal/domain"
)

type apiMock struct{ mock.Mock }

func (m *apiMock) GetItem(_ context.Context, in *awsv2dynamodb.GetItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *apiMock) PutItem(_ context.Context, in *awsv2dynamodb.PutItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *apiMock) UpdateItem(_ context.Context, in *awsv2dynamodb.UpdateItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.UpdateItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *apiMock) Query(_ context.Context, in *awsv2dynamodb.QueryInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *apiMock) Scan(_ context.Context, in *awsv2dynamodb.ScanInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.ScanOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.ScanOutput)
	return out, args.Error(1)
}

func (m *apiMock) TransactWriteItems(_ context.Context, in *awsv2dynamodb.TransactWriteItemsInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awsv2dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	ctx, seg := xray.BeginSegment(context.Background(), "dynamodb-test")
	t.Cleanup(func() { seg.Close(nil) })
	return ctx
}

func keyOf(pk, sk string) func(map[string]awsv2types.AttributeValue) bool {
	return func(k map[string]awsv2types.AttributeValue) bool {
		p, _ := k["PK"].(*awsv2types.AttributeValueMemberS)
		s, _ := k["SK"].(*awsv2types.AttributeValueMemberS)
		return p != nil && s != nil && p.Value == pk && s.Value == sk
	}
}

func getItemFor(pk, sk string) any {
	match := keyOf(pk, sk)
	return mock.MatchedBy(func(in *awsv2dynamodb.GetItemInput) bool { return match(in.Key) })
}

func marshal(t *testing.T, v any) map[string]awsv2types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return av
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "USER#u-1", userPK("u-1"))
	assert.Equal(t, "EMAIL#a@b.co", emailPK("a@b.co"))
	assert.Equal(t, "ROLE#ADMIN", roleSK("ADMIN"))
	assert.Equal(t, "PERM#USER:MANAGE", permSK("USER:MANAGE"))
}

func TestUserCreate_WritesUserAndEmailGuard(t *testing.T) {
	api := &apiMock{}
	client := NewWithAPI(api, "identity")

	api.On("TransactWriteItems", mock.MatchedBy(func(in *awsv2dynamodb.TransactWriteItemsInput) bool {
		if len(in.TransactItems) != 2 {
			return false
		}
		user, email := in.TransactItems[0].Put, in.TransactItems[1].Put
		return keyOf("USER#u-1", "META")(user.Item) &&
			keyOf("EMAIL#jane@example.com", "META")(email.Item) &&
			aws.ToString(email.ConditionExpression) == conditionFirst
	})).Return(&awsv2dynamodb.TransactWriteItemsOutput{}, nil)

	user, err := client.Users().Create(tracedContext(t), domain.User{ID: "u-1", Email: "jane@example.com", IsActive: true})
	require.NoError(t, err)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NotNil(t, user.Roles)
	api.AssertExpectations(t)
}

func TestUserCreate_CancelledTransaction(t *testing.T) {
	cases := []struct {
		name    string
		reasons []awsv2types.CancellationReason
		want    error
	}{
		{
			name:    "email taken",
			reasons: []awsv2types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}},
			want:    domain.ErrDuplicateEmail,
		},
		{
			name:    "id taken",
			reasons: []awsv2types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}, {Code: aws.String("None")}},
			want:    domain.ErrAlreadyExists,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &apiMock{}
			api.On("TransactWriteItems", mock.Anything).
				Return(nil, &awsv2types.TransactionCanceledException{CancellationReasons: tc.reasons})

			_, err := NewWithAPI(api, "identity").Users().Create(tracedContext(t), domain.User{ID: "u-1", Email: "a@b.co"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUserGetByEmail_ResolvesHeldRoles(t *testing.T) {
	api := &apiMock{}
	client := NewWithAPI(api, "identity")

	api.On("GetItem", getItemFor("EMAIL#jane@example.com", "META")).
		Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, emailItem{PK: "EMAIL#jane@example.com", SK: "META", UserID: "u-1"})}, nil)
	api.On("GetItem", getItemFor("USER#u-1", "META")).
		Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, userItem{
			PK: "USER#u-1", SK: "META", ID: "u-1", Email: "jane@example.com",
			PasswordHash: "hash", IsActive: true, CreatedAt: "2024-03-01T12:00:00Z",
			Roles: []string{"ADMIN"},
		})}, nil)
	api.On("Query", mock.Anything).
		Return(&awsv2dynamodb.QueryOutput{Items: []map[string]awsv2types.AttributeValue{
			marshal(t, roleItem{PK: rolesPK, SK: "ROLE#ADMIN", ID: "r-1", Name: "ADMIN", Permissions: []string{"USER:MANAGE", "BUILDING:READ"}}),
			marshal(t, roleItem{PK: rolesPK, SK: "ROLE#GUARD", ID: "r-2", Name: "GUARD"}),
		}}, nil)

	user, err := client.Users().GetByEmail(tracedContext(t), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, 2024, user.CreatedAt.Year())
	require.Len(t, user.Roles, 1)
	assert.Equal(t, []string{"BUILDING:READ", "USER:MANAGE"}, user.Roles[0].Permissions)
	api.AssertExpectations(t)
}

func TestUserGetByID_NotFound(t *testing.T) {
	api := &apiMock{}
	api.On("GetItem", mock.Anything).Return(&awsv2dynamodb.GetItemOutput{}, nil)

	_, err := NewWithAPI(api, "identity").Users().GetByID(tracedContext(t), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserAssignRole(t *testing.T) {
	t.Run("adds role to set", func(t *testing.T) {
		api := &apiMock{}
		api.On("GetItem", getItemFor(rolesPK, "ROLE#ADMIN")).
			Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, roleItem{PK: rolesPK, SK: "ROLE#ADMIN", ID: "r-1", Name: "ADMIN"})}, nil)
		api.On("UpdateItem", mock.MatchedBy(func(in *awsv2dynamodb.UpdateItemInput) bool {
			set, ok := in.ExpressionAttributeValues[":r"].(*awsv2types.AttributeValueMemberSS)
			return ok && set.Value[0] == "ADMIN" && keyOf("USER#u-1", "META")(in.Key)
		})).Return(&awsv2dynamodb.UpdateItemOutput{}, nil)

		require.NoError(t, NewWithAPI(api, "identity").Users().AssignRole(tracedContext(t), "u-1", "ADMIN"))
		api.AssertExpectations(t)
	})

	t.Run("unknown role", func(t *testing.T) {
		api := &apiMock{}
		api.On("GetItem", mock.Anything).Return(&awsv2dynamodb.GetItemOutput{}, nil)

		err := NewWithAPI(api, "identity").Users().AssignRole(tracedContext(t), "u-1", "NOPE")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		api.AssertNotCalled(t, "UpdateItem", mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		api := &apiMock{}
		api.On("GetItem", mock.Anything).
			Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, roleItem{PK: rolesPK, SK: "ROLE#ADMIN", ID: "r-1", Name: "ADMIN"})}, nil)
		api.On("UpdateItem", mock.Anything).Return(nil, &awsv2types.ConditionalCheckFailedException{})

		err := NewWithAPI(api, "identity").Users().AssignRole(tracedContext(t), "ghost", "ADMIN")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUserCount_Paginates(t *testing.T) {
	api := &apiMock{}
	next := map[string]awsv2types.AttributeValue{"PK": &awsv2types.AttributeValueMemberS{Value: "USER#u-9"}}
	api.On("Scan", mock.MatchedBy(func(in *awsv2dynamodb.ScanInput) bool { return in.ExclusiveStartKey == nil })).
		Return(&awsv2dynamodb.ScanOutput{Count: 2, LastEvaluatedKey: next}, nil).Once()
	api.On("Scan", mock.MatchedBy(func(in *awsv2dynamodb.ScanInput) bool { return in.ExclusiveStartKey != nil })).
		Return(&awsv2dynamodb.ScanOutput{Count: 1}, nil).Once()

	n, err := NewWithAPI(api, "identity").Users().Count(tracedContext(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRoleAndPermissionCreate_Duplicate(t *testing.T) {
	api := &apiMock{}
	api.On("PutItem", mock.Anything).Return(nil, &awsv2types.ConditionalCheckFailedException{})
	client := NewWithAPI(api, "identity")

	assert.ErrorIs(t, client.Roles().Create(tracedContext(t), domain.Role{ID: "r-1", Name: "ADMIN"}), domain.ErrAlreadyExists)
	assert.ErrorIs(t, client.Permissions().Create(tracedContext(t), domain.Permission{ID: "p-1", Code: "USER:MANAGE"}), domain.ErrAlreadyExists)
}

func TestRoleGrantPermission(t *testing.T) {
	t.Run("unknown permission", func(t *testing.T) {
		api := &apiMock{}
		api.On("GetItem", getItemFor(permissionsPK, "PERM#NOPE")).Return(&awsv2dynamodb.GetItemOutput{}, nil)

		err := NewWithAPI(api, "identity").Roles().GrantPermission(tracedContext(t), "ADMIN", "NOPE")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown role", func(t *testing.T) {
		api := &apiMock{}
		api.On("GetItem", mock.Anything).
			Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, permissionItem{PK: permissionsPK, SK: "PERM#USER:MANAGE", Code: "USER:MANAGE"})}, nil)
		api.On("UpdateItem", mock.Anything).Return(nil, &awsv2types.ConditionalCheckFailedException{})

		err := NewWithAPI(api, "identity").Roles().GrantPermission(tracedContext(t), "NOPE", "USER:MANAGE")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPermissionList(t *testing.T) {
	api := &apiMock{}
	api.On("Query", mock.MatchedBy(func(in *awsv2dynamodb.QueryInput) bool {
		pk, _ := in.ExpressionAttributeValues[":pk"].(*awsv2types.AttributeValueMemberS)
		return pk != nil && pk.Value == permissionsPK
	})).Return(&awsv2dynamodb.QueryOutput{Items: []map[string]awsv2types.AttributeValue{
		marshal(t, permissionItem{PK: permissionsPK, SK: "PERM#USER:MANAGE", ID: "p-1", Code: "USER:MANAGE", CreatedAt: "2024-03-01T12:00:00Z"}),
	}}, nil)

	perms, err := NewWithAPI(api, "identity").Permissions().List(tracedContext(t))
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "USER:MANAGE", perms[0].Code)
}

func TestUserGetByID_CorruptCreatedAt(t *testing.T) {
	api := &apiMock{}
	api.On("GetItem", mock.Anything).
		Return(&awsv2dynamodb.GetItemOutput{Item: marshal(t, userItem{
			PK: "USER#u-1", SK: "META", ID: "u-1", Email: "jane@example.com", CreatedAt: "yesterday",
		})}, nil)

	_, err := NewWithAPI(api, "identity").Users().GetByID(tracedContext(t), "u-1")
	assert.ErrorContains(t, err, "corrupt CreatedAt")
}

func TestPermissionList_CorruptCreatedAt(t *testing.T) {
	api := &apiMock{}
	api.On("Query", mock.Anything).Return(&awsv2dynamodb.QueryOutput{Items: []map[string]awsv2types.AttributeValue{
		marshal(t, permissionItem{PK: permissionsPK, SK: "PERM#X", ID: "p-1", Code: "X", CreatedAt: "01/02/2024"}),
	}}, nil)

	_, err := NewWithAPI(api, "identity").Permissions().List(tracedContext(t))
	assert.ErrorContains(t, err, "corrupt CreatedAt")
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("2024-03-01T12:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts, err = parseTimestamp("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}

func TestQueryErrorsPassThrough(t *testing.T) {
	api := &apiMock{}
	boom := errors.New("throttled")
	api.On("Query", mock.Anything).Return(nil, boom)

	_, err := NewWithAPI(api, "identity").Roles().List(tracedContext(t))
	assert.ErrorIs(t, err, boom)
}
