package campaign

import (
	"strings"

	"github.com/hongminglow/pipeline-crm/internal/models"
)

// Render replaces the recipient placeholders in text. Unknown braces are left
// untouched.
func Render(text string, r models.Recipient) string {
	first := r.ClientName
	if fields := strings.Fields(r.ClientName); len(fields) > 0 {
		first = fields[0]
	}
	return strings.NewReplacer(
		"{first_name}", first,
		"{name}", r.ClientName,
		"{company}", r.Company,
		"{email}", r.Email,
		"{funnel}", r.FunnelName,
		"{stage}", r.StageName,
	).Replace(text)
}
