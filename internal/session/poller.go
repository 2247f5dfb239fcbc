package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/parse"
	"github.com/ppiankov/dxmap/internal/util"
	"github.com/ppiankov/dxmap/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// seenPolls is how many poll intervals a page line is remembered
const seenPolls = 5

// PollerConfig controls the HTML source
type PollerConfig struct {
	URL           string
	Interval      time.Duration
	RespectRobots bool
	HTTP          model.HTTPConfig
	RateLimit     model.RateLimitingConfig
}

// Poller is the HTML alternative to a telnet session. It fetches a spot page
// on a fixed interval and emits every new <pre> row as a spot line.
type Poller struct {
	cfg     PollerConfig
	fetcher *Fetcher
	robots  *util.RobotsChecker
	limiter *worker.Limiter
	seen    *cache.Cache
	handler Handler
	log     zerolog.Logger
	now     func() time.Time
}

// NewPoller creates a poller. handler may be nil.
func NewPoller(cfg PollerConfig, handler Handler) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 15 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 2_000_000
	}
	if handler == nil {
		handler = func(Event) {}
	}

	p := &Poller{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes, cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		limiter: worker.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize),
		seen:    cache.New(time.Duration(seenPolls)*cfg.Interval, cfg.Interval),
		handler: handler,
		log:     logging.Component("poller").With().Str("url", cfg.URL).Logger(),
		now:     time.Now,
	}
	if cfg.RespectRobots {
		p.robots = util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout)
	}
	return p
}

// Run polls until ctx is cancelled. Failed polls are reported and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("poll failed")
			p.emit(Event{Kind: EventStatus, Line: fmt.Sprintf("poll %s failed: %v", p.cfg.URL, err), Err: err})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches the page once and returns how many new lines were emitted
func (p *Poller) Poll(ctx context.Context) (int, error) {
	var delay time.Duration
	if p.robots != nil {
		allowed, crawlDelay, err := p.robots.CanFetch(ctx, p.cfg.URL)
		if err != nil {
			return 0, fmt.Errorf("robots: %w", err)
		}
		if !allowed {
			return 0, fmt.Errorf("robots.txt disallows %s", p.cfg.URL)
		}
		delay = crawlDelay
	}

	if err := p.limiter.WaitWithDelay(ctx, p.cfg.URL, delay); err != nil {
		return 0, err
	}

	result, err := p.fetcher.FetchWithRetry(ctx, p.cfg.URL)
	if err != nil {
		return 0, err
	}
	if result.NotModified {
		p.log.Debug().Msg("page not modified")
		return 0, nil
	}

	rows, err := ExtractPre(result.HTML)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}

	emitted := 0
	for _, row := range rows {
		if strings.TrimSpace(row) == "" {
			continue
		}
		if _, dup := p.seen.Get(row); dup {
			continue
		}
		p.seen.SetDefault(row, struct{}{})
		p.emit(Event{Kind: EventSpotLine, Line: parse.HTMLMarker + row})
		emitted++
	}

	p.log.Debug().Int("rows", len(rows)).Int("new", emitted).Msg("page polled")
	return emitted, nil
}

func (p *Poller) emit(ev Event) {
	ev.Source = model.SourceHTML
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	p.handler(ev)
}

// ExtractPre returns the text lines of every <pre> element in the document
func ExtractPre(doc string) ([]string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "pre" {
			var sb strings.Builder
			collectText(n, &sb)
			for _, l := range strings.Split(sb.String(), "\n") {
				lines = append(lines, strings.TrimRight(l, "\r"))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return lines, nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode && n.Data == "br" {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
