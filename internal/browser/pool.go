// Package browser owns a single headless-browser process and hands out
// short-lived page contexts for fetching rendered HTML (spec §4.2).
//
// The launch/crash-recovery/shutdown lifecycle mirrors the teacher's
// services/price_fetcher.go: a lazily-started global browser behind a
// mutex, closed and re-launched on a dead session rather than propagating
// the crash to every caller.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Error definitions for the browser pool.
var (
	ErrFetchTimeout     = errors.New("fetch timed out")
	ErrNavigationFailed = errors.New("navigation failed")
	ErrBrowserCrashed   = errors.New("browser crashed")
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

const (
	hydrationSettle = 2 * time.Second
	navigationCeil  = 45 * time.Second
)

// Pool owns a single browser process across the process lifetime.
type Pool struct {
	execPath string

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	launched      bool
}

// New builds a Pool. execPath overrides the browser executable (§6); an
// empty string lets chromedp locate one on $PATH.
func New(execPath string) *Pool {
	return &Pool{execPath: execPath}
}

// ensureLaunched lazily starts the browser process. Must be called with
// mu held.
func (p *Pool) ensureLaunched() error {
	if p.launched {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("no-zygote", true),
		chromedp.WindowSize(1920, 1080),
	)
	if p.execPath != "" {
		opts = append(opts, chromedp.ExecPath(p.execPath))
	}

	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.browserCtx, p.browserCancel = chromedp.NewContext(p.allocCtx, chromedp.WithLogf(log.Printf))

	if err := chromedp.Run(p.browserCtx); err != nil {
		p.teardown()
		return fmt.Errorf("%w: %v", ErrBrowserCrashed, err)
	}

	p.launched = true
	return nil
}

// teardown releases the current browser handles. Must be called with mu
// held.
func (p *Pool) teardown() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.browserCtx, p.browserCancel = nil, nil
	p.allocCtx, p.allocCancel = nil, nil
	p.launched = false
}

// Fetch navigates to url in a fresh page context and returns the rendered
// HTML document. A crashed session closes the browser so the next call
// re-launches it.
func (p *Pool) Fetch(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	if err := p.ensureLaunched(); err != nil {
		p.mu.Unlock()
		return "", err
	}
	browserCtx := p.browserCtx
	p.mu.Unlock()

	pageCtx, pageCancel := chromedp.NewContext(browserCtx)
	defer pageCancel()

	pageCtx, timeoutCancel := context.WithTimeout(pageCtx, navigationCeil)
	defer timeoutCancel()

	ua := userAgents[rand.Intn(len(userAgents))]

	var html string
	err := chromedp.Run(pageCtx,
		chromedp.EmulateViewport(1920, 1080),
		network.Enable(),
		network.SetUserAgentOverride(ua),
		blockHeavyResources(),
		chromedp.Navigate(url),
		chromedp.Sleep(hydrationSettle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if isDeadSession(err) {
			p.mu.Lock()
			p.teardown()
			p.mu.Unlock()
			return "", fmt.Errorf("%w: %v", ErrBrowserCrashed, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}

	return html, nil
}

// blockHeavyResources blocks requests whose URL matches a common image,
// stylesheet, font or video file extension, via CDP's URL block list.
// Requests are not inspected by resource type, so such resources served
// under other URLs still load.
func blockHeavyResources() chromedp.Action {
	return network.SetBlockedURLs([]string{
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
		"*.css", "*.woff", "*.woff2", "*.ttf", "*.mp4", "*.webm",
	})
}

// isDeadSession reports whether err's message indicates the browser's
// session died and a re-launch is warranted.
func isDeadSession(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"session closed", "target closed", "connection closed", "websocket"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Close shuts the browser down with a 5s grace period (spec §5 Cancellation).
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.launched {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.teardown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("browser close: grace period exceeded")
	}
}
