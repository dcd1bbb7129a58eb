package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OrderStatusArgs are the arguments for the check_order_status tool.
type OrderStatusArgs struct {
	OrderID string `json:"order_id" jsonschema:"description=The order ID or order number (e.g. ORD-12345)"`
	Email   string `json:"email,omitempty" jsonschema:"description=Customer's email address associated with the order (for verification)"`
}

// Order is one entry in the order backend.
type Order struct {
	OrderID           string   `json:"order_id"`
	OrderStatus       string   `json:"status"`
	Items             []string `json:"items"`
	Total             string   `json:"total"`
	TrackingNumber    string   `json:"tracking_number,omitempty"`
	EstimatedDelivery string   `json:"estimated_delivery"`
}

// OrderStatusResult is the tool output returned to the model.
type OrderStatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

// OrderLookup resolves an order id to its current state. Implementations
// typically front an order management system; the demo lookup serves canned
// orders.
type OrderLookup func(ctx context.Context, orderID string) (*Order, bool)

// DemoOrderLookup returns a lookup over a small fixed order set.
func DemoOrderLookup() OrderLookup {
	orders := map[string]Order{
		"ORD-12345": {
			OrderID:           "ORD-12345",
			OrderStatus:       "shipped",
			Items:             []string{"Product A", "Product B"},
			Total:             "$149.99",
			TrackingNumber:    "1Z999AA10123456784",
			EstimatedDelivery: time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
		},
		"ORD-67890": {
			OrderID:           "ORD-67890",
			OrderStatus:       "processing",
			Items:             []string{"Product C"},
			Total:             "$79.99",
			EstimatedDelivery: time.Now().AddDate(0, 0, 5).Format("2006-01-02"),
		},
	}
	return func(ctx context.Context, orderID string) (*Order, bool) {
		o, ok := orders[orderID]
		if !ok {
			return nil, false
		}
		return &o, true
	}
}

// NewOrderStatus builds the check_order_status tool over the given lookup.
func NewOrderStatus(lookup OrderLookup) Tool {
	return New("check_order_status",
		"Checks the status of a customer's order. Use this when the user wants to know about their order status, tracking, or delivery information.",
		func(ctx context.Context, args OrderStatusArgs) (any, error) {
			orderID := strings.ToUpper(strings.TrimSpace(args.OrderID))
			if orderID == "" {
				return OrderStatusResult{Success: false, Message: "An order ID is required"}, nil
			}
			order, ok := lookup(ctx, orderID)
			if !ok {
				return OrderStatusResult{
					Success: false,
					Message: fmt.Sprintf("No order found with ID %s. Please verify the order number.", orderID),
				}, nil
			}
			msg := fmt.Sprintf("Order %s is %s", order.OrderID, order.OrderStatus)
			if order.TrackingNumber != "" {
				msg += ". Tracking number: " + order.TrackingNumber
			}
			return OrderStatusResult{Success: true, Message: msg, Order: order}, nil
		})
}
