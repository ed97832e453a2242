package service

import "checkout-service/internal/models"

// CheckCartLine reports the issue blocking a single line, if any.
func CheckCartLine(item models.CartItem) (LineIssue, bool) {
	issue := LineIssue{
		ProductID: item.ProductID,
		Size:      item.Size,
		Requested: item.Quantity,
		Available: item.Stock,
	}
	switch {
	case !item.IsActive:
		issue.Reason = IssueInactive
	case item.Stock < item.Quantity:
		issue.Reason = IssueInsufficientStock
	default:
		return LineIssue{}, false
	}
	return issue, true
}

// CheckCartLines returns a *CartValidationError naming every line that is
// inactive or asks for more than the available stock, or nil if the cart may
// be checked out. Quantities of the same product in different sizes are
// summed against the product's stock.
func CheckCartLines(items []models.CartItem) error {
	demand := make(map[int64]int, len(items))
	for _, it := range items {
		demand[it.ProductID] += it.Quantity
	}

	var issues []LineIssue
	for _, it := range items {
		check := it
		if demand[it.ProductID] > it.Quantity {
			check.Quantity = demand[it.ProductID]
		}
		if issue, bad := CheckCartLine(check); bad {
			issue.Requested = it.Quantity
			issues = append(issues, issue)
		}
	}
	if len(issues) > 0 {
		return &CartValidationError{Issues: issues}
	}
	return nil
}
