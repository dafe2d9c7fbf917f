package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/types"
	"github.com/go-scripts/examcrawl/pkg/common"
	"github.com/go-scripts/examcrawl/pkg/crawl"
)

var tracer = otel.Tracer("examcrawl/internal/crawler")

// maxPrealloc bounds the record capacity reserved from the page's own count
const maxPrealloc = 1024

// Configuration holds the locators and waits of the extraction loop
type Configuration struct {
	Site        common.Site
	PrimaryWait time.Duration
	OverlayWait time.Duration
	StepPause   time.Duration
	PagePause   time.Duration
}

// Reporter receives the loop's log lines and progress values
type Reporter interface {
	Log(msg string)
	Progress(fraction float64, desc string)
}

// Result is the outcome of one extraction. Records holds everything that
// was collected even when Aborted is set.
type Result struct {
	Total     int
	Records   []types.Record
	Recovered []*types.Fault
	Aborted   *types.Fault
}

// Crawler walks an exam's submissions one pagination item at a time
type Crawler struct {
	config   Configuration
	page     crawl.Page
	reporter Reporter
}

// New creates a Crawler. Zero waits fall back to the package defaults.
func New(config Configuration, page crawl.Page, reporter Reporter) *Crawler {
	if config.PrimaryWait <= 0 {
		config.PrimaryWait = duration.WaitPrimary
	}
	if config.OverlayWait <= 0 {
		config.OverlayWait = duration.WaitOverlay
	}
	if config.StepPause <= 0 {
		config.StepPause = duration.StepPause
	}
	if config.PagePause <= 0 {
		config.PagePause = duration.PagePause
	}
	return &Crawler{config: config, page: page, reporter: reporter}
}

func (c *Crawler) step(fraction float64, msg string) {
	c.reporter.Log(msg)
	c.reporter.Progress(fraction, msg)
}

// ParseTotal reads the denominator of a pagination indicator such as
// "3/10", or a bare count such as "7". Counts below one become one.
func ParseTotal(text string) (int, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "/"); i >= 0 {
		text = strings.TrimSpace(text[i+1:])
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid pagination indicator %q: %w", text, err)
	}
	if n <= 0 {
		n = 1
	}
	return n, nil
}

// Extract collects one record per submission of examID. running is polled
// before each item; once it reports false the loop stops after the item in
// progress.
func (c *Crawler) Extract(ctx context.Context, examID string, running func() bool) Result {
	ctx, span := tracer.Start(ctx, "crawler:Extract")
	defer span.End()
	span.SetAttributes(attribute.String("exam.id", examID))

	site := c.config.Site
	target := site.ExamURL(examID)

	c.step(0.3, fmt.Sprintf("Opening exam %s: %s", examID, target))
	if err := c.page.Navigate(ctx, target, c.config.PrimaryWait); err != nil {
		c.reporter.Log(fmt.Sprintf("Navigation to exam page failed: %v", err))
	}
	_ = c.page.Pause(ctx, c.config.PagePause)

	total := c.total(ctx)
	result := Result{Total: total, Records: make([]types.Record, 0, min(total, maxPrealloc))}

	for i := 0; i < total; i++ {
		if !running() || ctx.Err() != nil {
			c.reporter.Log("Stop requested, ending extraction")
			break
		}

		fraction := 0.4 + float64(i)/float64(total)*0.5
		c.step(fraction, fmt.Sprintf("Processing item %d/%d...", i+1, total))

		err := c.item(ctx, fraction, &result)
		if err == nil && i < total-1 {
			err = c.advance(ctx)
			if err == nil {
				c.step(fraction, "Moved to next item.")
			}
		}
		if err == nil {
			continue
		}

		c.step(fraction, fmt.Sprintf("Item %d failed: %v", i+1, err))
		result.Recovered = append(result.Recovered, types.NewFault(types.KindExtractionItem, err))
		if i == total-1 {
			continue
		}
		if err := c.advance(ctx); err != nil {
			c.step(fraction, fmt.Sprintf("Forced move to next item failed (%v). Stopping.", err))
			result.Aborted = types.NewFault(types.KindNavigation, err)
			break
		}
		c.step(fraction, "Forced move to next item after error.")
	}

	c.step(0.9, fmt.Sprintf("Extraction finished. %d records collected.", len(result.Records)))
	span.SetAttributes(
		attribute.Int("exam.total", total),
		attribute.Int("exam.records", len(result.Records)),
	)
	return result
}

// total reads the pagination indicator, assuming a single item when it
// cannot be read.
func (c *Crawler) total(ctx context.Context) int {
	text, err := c.page.Text(ctx, c.config.Site.Pagination, c.config.PrimaryWait)
	if err == nil {
		var n int
		if n, err = ParseTotal(text); err == nil {
			c.step(0.35, fmt.Sprintf("Found %d items.", n))
			return n
		}
	}
	c.step(0.35, fmt.Sprintf("Could not read pagination (%v), processing a single item.", err))
	return 1
}

// item extracts the record on the current page. Only the student name is
// required; a missing blog link or overlay is logged and tolerated.
func (c *Crawler) item(ctx context.Context, fraction float64, result *Result) error {
	site := c.config.Site

	name, err := c.page.Text(ctx, site.StudentName, c.config.PrimaryWait)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	c.step(fraction, fmt.Sprintf("Name: %s", name))

	link, fault := c.blogLink(ctx, fraction, name)
	if fault != nil {
		result.Recovered = append(result.Recovered, fault)
	}

	switch err := c.page.Click(ctx, site.CloseOverlay, c.config.OverlayWait); {
	case err == nil:
		c.step(fraction, "Closed second overlay.")
		_ = c.page.Pause(ctx, c.config.StepPause)
	case errors.Is(err, crawl.ErrTimeout):
		// the overlay only exists for some items
	default:
		c.step(fraction, fmt.Sprintf("%s: error closing second overlay - %v", name, err))
	}

	result.Records = append(result.Records, types.Record{StudentName: name, BlogLink: link})
	return nil
}

// blogLink opens the answer panel, reads the link and closes the panel.
// The link read before a failure is kept.
func (c *Crawler) blogLink(ctx context.Context, fraction float64, name string) (link string, fault *types.Fault) {
	site := c.config.Site
	defer func() {
		if fault == nil {
			return
		}
		if errors.Is(fault.Err, crawl.ErrTimeout) {
			c.step(fraction, fmt.Sprintf("%s: timed out collecting blog link (item may have none)", name))
		} else {
			c.step(fraction, fmt.Sprintf("%s: error collecting blog link - %v", name, fault.Err))
		}
	}()

	if err := c.page.Click(ctx, site.AnswerButton, c.config.PrimaryWait); err != nil {
		return "", types.NewFault(types.KindExtractionItem, err)
	}
	c.step(fraction, "Opened answer panel.")
	_ = c.page.Pause(ctx, c.config.StepPause)

	html, err := c.page.OuterHTML(ctx, site.BlogLink, c.config.PrimaryWait)
	if err != nil {
		return "", types.NewFault(types.KindExtractionItem, err)
	}
	link = LinkFromHTML(html)
	c.step(fraction, fmt.Sprintf("Blog link: %s...", truncate(link, 50)))

	if err := c.page.Click(ctx, site.CloseDetail, c.config.PrimaryWait); err != nil {
		return link, types.NewFault(types.KindExtractionItem, err)
	}
	c.step(fraction, "Closed answer panel.")
	_ = c.page.Pause(ctx, c.config.StepPause)
	return link, nil
}

func (c *Crawler) advance(ctx context.Context) error {
	if err := c.page.Click(ctx, c.config.Site.NextButton, c.config.PrimaryWait); err != nil {
		return err
	}
	return c.page.Pause(ctx, c.config.PagePause)
}

// LinkFromHTML returns the visible text of the answer field, or the first
// anchor's href when the field has no text.
func LinkFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if text := strings.TrimSpace(doc.Text()); text != "" {
		return text
	}
	href, _ := doc.Find("a[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
