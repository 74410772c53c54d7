// Package pdftext turns an interruption-notice PDF into plain text with the
// printed line structure preserved, which is what the bulletin parser's
// line-oriented grammar expects.
package pdftext

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// rowQuantum buckets fragment baselines: fragments within a couple of
// points of each other belong to the same printed line.
const rowQuantum = 2.0

// Extract returns the text of a PDF, one printed line per output line,
// pages in order, lines top to bottom.
func Extract(data []byte) (text string, err error) {
	// The underlying parser panics on malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var lines []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, pageLines(page.Content())...)
	}
	return strings.Join(lines, "\n"), nil
}

func pageLines(content pdf.Content) []string {
	rows := make(map[int][]pdf.Text)
	for _, fragment := range content.Text {
		key := int(math.Round(fragment.Y / rowQuantum))
		rows[key] = append(rows[key], fragment)
	}

	// PDF y grows upward, so the top line has the largest key.
	keys := make([]int, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		fragments := rows[key]
		sort.SliceStable(fragments, func(i, j int) bool {
			return fragments[i].X < fragments[j].X
		})
		var b strings.Builder
		var prevEnd float64
		for i, fragment := range fragments {
			if i > 0 && fragment.X-prevEnd > wordGap(fragment.FontSize) {
				b.WriteByte(' ')
			}
			b.WriteString(fragment.S)
			prevEnd = fragment.X + fragment.W
		}
		line := strings.Join(strings.Fields(b.String()), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// wordGap is the horizontal distance past which two fragments are separate
// words. A space in most faces is about a quarter of the font size.
func wordGap(fontSize float64) float64 {
	if fontSize <= 0 {
		return 1
	}
	return fontSize * 0.2
}
