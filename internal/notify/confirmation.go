package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/orders"
	"github.com/bartek5186/hurtownia/internal/tasks"
)

// ConfirmationHandler obsługuje zadanie orders.ConfirmationTask.
func ConfirmationHandler(gdb *gorm.DB, n Notifier) tasks.Handler {
	return func(ctx context.Context, t *db.Task) error {
		var c orders.Confirmation
		if err := tasks.Decode(t, &c); err != nil {
			return err
		}

		var items []db.OrderItem
		if err := gdb.WithContext(ctx).Preload("ProductInfo.Product").
			Where("order_id = ?", c.OrderID).Order("id").Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return tasks.Permanent(fmt.Errorf("order %d has no items", c.OrderID))
		}
		return n.Send(ctx, BuildConfirmation(c, items))
	}
}

// BuildConfirmation składa treść potwierdzenia z pozycji złożonego zamówienia.
func BuildConfirmation(c orders.Confirmation, items []db.OrderItem) Message {
	name := c.Name
	if name == "" {
		name = "Customer"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s, your order #%d has been received and accepted for work.\nOrder items:\n", name, c.OrderID)

	lines := make([]string, 0, len(items))
	sum := decimal.Zero
	for i := range items {
		it := &items[i]
		price := orders.UnitPrice(it)
		product := it.ProductName
		if product == "" && it.ProductInfo != nil && it.ProductInfo.Product != nil {
			product = it.ProductInfo.Product.Name
		}
		line := fmt.Sprintf("%s :: quantity %d :: price %s", product, it.Quantity, price.StringFixed(2))
		lines = append(lines, line)
		b.WriteString(line)
		b.WriteByte('\n')
		sum = sum.Add(price.Mul(decimal.NewFromInt(it.Quantity)))
	}
	fmt.Fprintf(&b, "Order sum: %s\n", sum.StringFixed(2))

	return Message{
		OrderID:  c.OrderID,
		UserID:   c.UserID,
		To:       c.Email,
		Subject:  fmt.Sprintf("Order #%d accepted", c.OrderID),
		Body:     b.String(),
		Lines:    lines,
		OrderSum: sum.StringFixed(2),
	}
}
