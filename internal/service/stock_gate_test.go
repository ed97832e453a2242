package service

import (
	"errors"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCartLinesInsufficientStock(t *testing.T) {
	err := CheckCartLines([]models.CartItem{
		{ProductID: 1, Size: "M", Quantity: 3, IsActive: true, Stock: 2},
	})

	var cve *CartValidationError
	require.True(t, errors.As(err, &cve))
	assert.ErrorIs(t, err, ErrCartInvalid)
	require.Len(t, cve.Issues, 1)
	assert.Equal(t, LineIssue{ProductID: 1, Size: "M", Reason: IssueInsufficientStock, Requested: 3, Available: 2}, cve.Issues[0])
}

func TestCheckCartLinesInactive(t *testing.T) {
	err := CheckCartLines([]models.CartItem{
		{ProductID: 1, Quantity: 1, IsActive: true, Stock: 5},
		{ProductID: 2, Quantity: 1, IsActive: false, Stock: 5},
	})

	var cve *CartValidationError
	require.True(t, errors.As(err, &cve))
	require.Len(t, cve.Issues, 1)
	assert.Equal(t, int64(2), cve.Issues[0].ProductID)
	assert.Equal(t, IssueInactive, cve.Issues[0].Reason)
}

func TestCheckCartLinesSumsSizes(t *testing.T) {
	items := []models.CartItem{
		{ProductID: 1, Size: "S", Quantity: 2, IsActive: true, Stock: 3},
		{ProductID: 1, Size: "M", Quantity: 2, IsActive: true, Stock: 3},
	}

	var cve *CartValidationError
	require.True(t, errors.As(CheckCartLines(items), &cve))
	require.Len(t, cve.Issues, 2)
	assert.Equal(t, 2, cve.Issues[0].Requested)
	assert.Equal(t, "M", cve.Issues[1].Size)
}

func TestCheckCartLinesValid(t *testing.T) {
	assert.NoError(t, CheckCartLines([]models.CartItem{
		{ProductID: 1, Size: "S", Quantity: 2, IsActive: true, Stock: 2},
		{ProductID: 2, Quantity: 1, IsActive: true, Stock: 1},
	}))
	assert.NoError(t, CheckCartLines(nil))
}
