// Package question validates the parameters a new binary question market
// is created with: URL slug, display title, and liquidity.
package question

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxSlugLen bounds slug length; slugs appear in URLs and cache keys.
	MaxSlugLen = 80

	// MaxTitleLen bounds the display title.
	MaxTitleLen = 200
)

// DefaultLiquidity is the LMSR b parameter applied when none is given.
var DefaultLiquidity = decimal.NewFromInt(100)

// slugRegex matches lowercase kebab-case: "will-it-rain-tomorrow".
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var (
	ErrInvalidSlug  = errors.New("question: slug must be lowercase kebab-case")
	ErrSlugTooLong  = errors.New("question: slug too long")
	ErrEmptyTitle   = errors.New("question: title is required")
	ErrTitleTooLong = errors.New("question: title too long")
)

// Params are the creation parameters for one market.
type Params struct {
	Slug  string          `json:"slug"`
	Title string          `json:"title"`
	B     decimal.Decimal `json:"b"` // liquidity; <= 0 → DefaultLiquidity
}

// Validate normalizes and checks the parameters in place: an empty slug
// is derived from the title, and a non-positive b falls back to the
// default liquidity.
func (p *Params) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return ErrEmptyTitle
	}
	if len(p.Title) > MaxTitleLen {
		return ErrTitleTooLong
	}

	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	if len(p.Slug) > MaxSlugLen {
		return ErrSlugTooLong
	}
	if !slugRegex.MatchString(p.Slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, p.Slug)
	}

	if p.B.LessThanOrEqual(decimal.Zero) {
		p.B = DefaultLiquidity
	}
	return nil
}

// Slugify derives a URL slug from a title: lowercase, non-alphanumerics
// collapsed to single hyphens, truncated to MaxSlugLen at a hyphen-safe
// boundary.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen

	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.TrimRight(slug[:MaxSlugLen], "-")
	}
	return slug
}
