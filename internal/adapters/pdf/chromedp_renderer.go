package pdf

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"subscription-service/internal/domain/ports"
)

// DefaultRenderTimeout bounds a single print job
const DefaultRenderTimeout = 30 * time.Second

// ChromeRenderer renders invoice HTML to PDF through headless Chrome
type ChromeRenderer struct {
	logger  ports.Logger
	timeout time.Duration
}

// NewChromeRenderer creates a renderer backed by a headless browser
func NewChromeRenderer(logger ports.Logger) *ChromeRenderer {
	return &ChromeRenderer{logger: logger, timeout: DefaultRenderTimeout}
}

// RenderPDF implements ports.InvoiceRenderer. Each call runs its own
// browser context so concurrent renders do not share state.
func (r *ChromeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	dataURL := "data:text/html," + url.PathEscape(html)

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(dataURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	r.logger.Debug("invoice rendered", ports.Int("bytes", len(pdf)))
	return pdf, nil
}
