package parser

import (
	"bytes"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"pinscout/internal/models"
)

const (
	DefaultBaseURL = "https://www.pinterest.com"
	PinPathPrefix  = "/pin/"

	cardSelector = `[data-test-id="pin"],[data-grid-item],[role="listitem"]`
)

// Parser turns a rendered search results snapshot into pin records.
type Parser struct {
	base *url.URL
}

func New() *Parser {
	p, _ := NewWithBase(DefaultBaseURL)
	return p
}

// NewWithBase resolves relative pin links against baseURL.
func NewWithBase(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{base: u}, nil
}

var numberRe = regexp.MustCompile(`\d[\d,]*`)

func (p *Parser) Extract(r io.Reader, contentType string) ([]models.Record, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	data := buf.Bytes()

	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		if !utf8.Valid(data) {
			return nil, err
		}
		utf8data = data
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8data))
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []models.Record
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if _, dup := seen[href]; dup {
			return
		}
		u, err := p.base.Parse(href)
		if err != nil || !strings.HasPrefix(u.Path, PinPathPrefix) {
			return
		}
		seen[href] = struct{}{}

		id := strings.TrimSuffix(strings.TrimPrefix(u.Path, PinPathPrefix), "/")
		if id == "" {
			return
		}

		card := a.Closest(cardSelector)
		if card.Length() == 0 {
			card = a.Parent()
		}
		img := card.Find("img").First()

		title := strings.TrimSpace(card.Find("[title]").First().AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(img.AttrOr("alt", ""))
		}

		out = append(out, models.Record{
			PinID:     id,
			SourceURL: u.String(),
			ImageURL:  strings.TrimSpace(img.AttrOr("src", "")),
			Title:     title,
			Saves:     saveCount(card),
		})
	})
	return out, nil
}

// saveCount reads the first element labelled as a save counter, either by its
// own aria-label or by an embedded icon's label.
func saveCount(card *goquery.Selection) int {
	var indicator *goquery.Selection
	card.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if mentionsSave(s.AttrOr("aria-label", "")) {
			indicator = s
			return false
		}
		icon := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			return mentionsSave(c.AttrOr("aria-label", ""))
		})
		if icon.Length() > 0 {
			indicator = s
			return false
		}
		return true
	})
	if indicator == nil {
		return 0
	}
	if n, ok := LeadingNumber(indicator.Text()); ok {
		return n
	}
	n, _ := LeadingNumber(indicator.AttrOr("aria-label", ""))
	return n
}

func mentionsSave(label string) bool {
	return strings.Contains(strings.ToLower(label), "save")
}

// LeadingNumber parses the first run of digits in s, ignoring thousands
// separators. It reports false when no number is present.
func LeadingNumber(s string) (int, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
