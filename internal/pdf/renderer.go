package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

type Config struct {
	ChromiumPath string
	Timeout      time.Duration
}

// Renderer prints HTML reports to PDF via headless Chromium.
type Renderer struct {
	cfg    Config
	logger *slog.Logger
}

func NewRenderer(cfg Config, logger *slog.Logger) Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Renderer{cfg: cfg, logger: logger}
}

// RenderPDF loads html into a blank page and prints it. If Chromium is
// unavailable it returns an error so the caller can decide to retry or skip.
func (r Renderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()

	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, r.cfg.Timeout)
	defer cancelTimeout()

	start := time.Now()
	var buf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		loadDocument(html),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, perr := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(true).
				Do(ctx)
			if perr == nil {
				buf = out
			}
			return perr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	r.logger.Debug("pdf rendered", "bytes", len(buf), "elapsed", time.Since(start))
	return buf, nil
}

// loadDocument replaces the main frame's document. Unlike a data URL it is
// not subject to the browser's URL length limit.
func loadDocument(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
	})
}

func (r Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ChromiumPath))
	}
	return opts
}
