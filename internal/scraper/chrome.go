package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultBookingURL = "https://www.booking.com"
	cardSelector      = `div[data-testid="property-card-container"]`
)

type ChromeConfig struct {
	BaseURL     string
	UserAgent   string
	Language    string
	PageTimeout time.Duration
	RenderWait  time.Duration
}

// ChromeBrowser renders the listing site in a single headless Chrome tab.
// Calls are serialized by the caller.
type ChromeBrowser struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       ChromeConfig
	logger    *zap.Logger
	startOnce sync.Once
	startErr  error
}

var _ Browser = (*ChromeBrowser)(nil)

func NewChromeBrowser(cfg ChromeConfig, logger *zap.Logger) *ChromeBrowser {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBookingURL
	}
	if cfg.Language == "" {
		cfg.Language = "fr"
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	return &ChromeBrowser{
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger,
	}
}

func (b *ChromeBrowser) Close() {
	b.cancel()
}

// run executes actions on the tab, bounded by the page timeout and by ctx.
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	// the browser process lives as long as the context of the first Run, so
	// it must be started on the long-lived tab context
	b.startOnce.Do(func() {
		b.startErr = chromedp.Run(b.ctx)
	})
	if b.startErr != nil {
		return fmt.Errorf("failed to start browser: %w", b.startErr)
	}

	runCtx, cancel := context.WithTimeout(b.ctx, b.cfg.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// SearchCity returns the results page URL for the city. The search form
// submits to this URL, so it is built directly.
func (b *ChromeBrowser) SearchCity(_ context.Context, cityName string) (string, error) {
	if strings.TrimSpace(cityName) == "" {
		return "", fmt.Errorf("empty city name")
	}
	query := url.Values{}
	query.Set("ss", cityName)
	query.Set("lang", b.cfg.Language)
	return fmt.Sprintf("%s/searchresults.%s.html?%s", b.cfg.BaseURL, b.cfg.Language, query.Encode()), nil
}

func (b *ChromeBrowser) ListProperties(ctx context.Context, resultsURL string) ([]PropertyCard, error) {
	if err := b.run(ctx, chromedp.Navigate(resultsURL)); err != nil {
		return nil, fmt.Errorf("navigate to results failed: %w", err)
	}

	if err := b.run(ctx, chromedp.WaitVisible(cardSelector, chromedp.ByQuery)); err != nil {
		b.logger.Debug("Property cards not visible, extracting anyway",
			zap.String("url", resultsURL),
			zap.Error(err))
		if b.cfg.RenderWait > 0 {
			_ = b.run(ctx, chromedp.Sleep(b.cfg.RenderWait))
		}
	}

	var cards []PropertyCard
	err := b.run(ctx, chromedp.Evaluate(`
		(function() {
			var cards = [];
			document.querySelectorAll('div[data-testid="property-card-container"]').forEach(function(card) {
				var link = card.querySelector('a[data-testid="title-link"]');
				if (!link) return;
				var nameEl = link.querySelector('div') || card.querySelector('[data-testid="title"]');
				var scoreEl = card.querySelector('div[data-testid="review-score"] > div');
				var descEl = card.querySelector('div.b290e5dfa6') ||
				             card.querySelector('[data-testid="property-card-unit-configuration"]');
				cards.push({
					url: link.href,
					name: nameEl ? nameEl.innerText.trim() : '',
					score: scoreEl ? scoreEl.innerText.trim() : '',
					description: descEl ? descEl.innerText.trim() : ''
				});
			});
			return cards;
		})()
	`, &cards))
	if err != nil {
		return nil, fmt.Errorf("card extraction failed: %w", err)
	}

	return cards, nil
}

func (b *ChromeBrowser) PropertyDetail(ctx context.Context, propertyURL string) (PropertyDetail, error) {
	var detail PropertyDetail
	err := b.run(ctx,
		chromedp.Navigate(propertyURL),
		chromedp.Evaluate(`
			(function() {
				var address = document.querySelector('a#hotel_address');
				var desc = document.querySelector('p[data-testid="property-description"]');
				return {
					gps: address ? (address.getAttribute('data-atlas-latlng') || '') : '',
					full_description: desc ? desc.innerText.trim() : ''
				};
			})()
		`, &detail),
	)
	if err != nil {
		return PropertyDetail{}, fmt.Errorf("detail extraction failed: %w", err)
	}
	if detail.GPSCoordinates == "" {
		return PropertyDetail{}, fmt.Errorf("no coordinates on %s", propertyURL)
	}
	return detail, nil
}
