package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberFor derives the invoice number for a completed payment. It is
// deterministic so a replayed completion assigns the same number
// instead of minting a second one.
func NumberFor(prefix string, paymentID uuid.UUID, completedAt time.Time) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = "INV"
	}
	compact := strings.ToUpper(strings.ReplaceAll(paymentID.String(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", prefix, completedAt.UTC().Format("200601"), compact[:12])
}
