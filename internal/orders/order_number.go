package orders

import (
	"fmt"
	"math/rand"
	"time"
)

const orderNumberMaxAttempts = 5

// generateOrderNumber builds a buyer-facing order number: the order date
// followed by six random digits. Uniqueness is enforced by the unique index
// on orders.order_number; callers retry on collision.
func generateOrderNumber(at time.Time) string {
	return fmt.Sprintf("%s%06d", at.Format("20060102"), 100000+rand.Intn(900000))
}
