package store

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamoOrder_ToOrder(t *testing.T) {
	do := dynamoOrder{
		BuyerID:    "buyer-1",
		Categories: []string{"ins-fl", "re-ca"},
		Total:      "22.00",
		Status:     "PAID",
		PaymentRef: "TXN-1",
		CreatedAt:  time.Now().Format(time.RFC3339Nano),
		UpdatedAt:  time.Now().Format(time.RFC3339Nano),
		Version:    3,
	}

	o, err := do.toOrder()

	require.NoError(t, err)
	assert.Equal(t, "buyer-1", o.BuyerID)
	assert.True(t, o.Categories["re-ca"])
	assert.True(t, o.Categories["ins-fl"])
	assert.Equal(t, "22.00", o.Total.StringFixed(2))
	assert.Equal(t, "TXN-1", o.PaymentRef)
}

func TestDynamoOrder_ToOrder_CorruptTotal(t *testing.T) {
	do := dynamoOrder{BuyerID: "buyer-1", Total: "not-a-number", Status: "PAID"}

	_, err := do.toOrder()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-number")
}

func TestItemBuyerID(t *testing.T) {
	item := map[string]types.AttributeValue{
		"buyer_id": &types.AttributeValueMemberS{Value: "buyer-1"},
	}
	assert.Equal(t, "buyer-1", itemBuyerID(item))

	// a row so corrupt the key itself is unreadable still yields a label
	assert.Equal(t, "<unknown>", itemBuyerID(map[string]types.AttributeValue{}))
	assert.Equal(t, "<unknown>", itemBuyerID(map[string]types.AttributeValue{
		"buyer_id": &types.AttributeValueMemberN{Value: "42"},
	}))
}
