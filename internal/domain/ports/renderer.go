package ports

import "context"

// InvoiceRenderer converts rendered invoice HTML into a PDF document
type InvoiceRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}
