// Package paycode generates and recognises the payment reference a customer
// types into a bank transfer memo, shaped PREFIX-YYMMDD-NNNN.
package paycode

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "WDP"

// Format describes payment codes with a fixed prefix.
type Format struct {
	prefix string
	re     *regexp.Regexp
}

// NewFormat returns the format for prefix. The prefix is upper-cased and
// stripped of anything but letters and digits.
func NewFormat(prefix string) Format {
	p := alnumUpper(prefix)
	if p == "" {
		p = DefaultPrefix
	}
	return Format{
		prefix: p,
		re:     regexp.MustCompile(regexp.QuoteMeta(p) + `(\d{6})(\d{4})`),
	}
}

// Prefix returns the normalised prefix.
func (f Format) Prefix() string {
	return f.prefix
}

// Build renders the code for the UTC date of t and a 0..9999 sequence.
func (f Format) Build(t time.Time, n int) string {
	return fmt.Sprintf("%s-%s-%04d", f.prefix, t.UTC().Format("060102"), n%10000)
}

// Normalize finds a payment code inside free text such as a transfer memo.
// Separators, case and surrounding text are ignored; the canonical
// PREFIX-YYMMDD-NNNN form of the first match is returned.
func (f Format) Normalize(raw string) (string, bool) {
	m := f.re.FindStringSubmatch(alnumUpper(raw))
	if m == nil {
		return "", false
	}
	return f.prefix + "-" + m[1] + "-" + m[2], true
}

func alnumUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Generator produces candidate payment codes. Codes are not unique by
// construction; the order store rejects duplicates and callers retry.
type Generator struct {
	format Format
	now    func() time.Time
	seq    func() int
}

// NewGenerator creates a Generator for the given format.
func NewGenerator(format Format) *Generator {
	return &Generator{
		format: format,
		now:    time.Now,
		seq:    func() int { return rand.IntN(10000) },
	}
}

// Generate returns a fresh candidate code.
func (g *Generator) Generate() string {
	return g.format.Build(g.now(), g.seq())
}
