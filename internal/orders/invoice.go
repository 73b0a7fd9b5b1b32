package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewInvoiceID builds the opaque invoice reference handed to the payment
// gateway, e.g. "tg12345-9F07A1C2D4".
func NewInvoiceID(actorID int64) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("tg%d-%s", actorID, raw[:10])
}
