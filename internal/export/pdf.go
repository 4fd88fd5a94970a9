package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome"}

// dataURL percent-encodes html for a data: URL. Spaces must become %20, not "+".
func dataURL(html string) string {
	var b strings.Builder
	b.WriteString("data:text/html;charset=utf-8,")
	for _, c := range []byte(html) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func chromeAvailable() bool {
	for _, name := range chromeBinaries {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// renderPDF prints html to an A4 landscape PDF using headless Chrome.
func renderPDF(ctx context.Context, html string) ([]byte, error) {
	if !chromeAvailable() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(true).
				WithPaperWidth(11.69).
				WithPaperHeight(8.27).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}
	return pdfData, nil
}
