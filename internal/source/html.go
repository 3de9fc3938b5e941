package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PuerkitoBio/goquery"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/pkg/types"
)

// htmlSource pulls a JSON blob embedded in an HTML page, typically a
// `window.__data = {...};` assignment inside a <script> element, and then
// behaves like jsonSource.
type htmlSource struct {
	src     config.Source
	client  *http.Client
	records gval.Evaluable
	cols    []column
}

func (s *htmlSource) Fetch(ctx context.Context) (types.Batch, error) {
	body, err := get(ctx, s.client, s.src.Endpoint, "text/html")
	if err != nil {
		return types.Batch{}, fmt.Errorf("html source %s: %w", s.src.Endpoint, err)
	}

	blob, err := embeddedJSON(body, s.src)
	if err != nil {
		return types.Batch{}, fmt.Errorf("html source %s: %w", s.src.Endpoint, err)
	}
	doc, err := decodeJSON([]byte(blob))
	if err != nil {
		return types.Batch{}, fmt.Errorf("html source %s: %w", s.src.Endpoint, err)
	}
	return extract(ctx, doc, s.records, s.cols)
}

// embeddedJSON locates the element holding the JSON and strips the
// configured prefix and suffix from its text.
func embeddedJSON(page []byte, src config.Source) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	sel := doc.Find(src.Selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("selector %q matched nothing", src.Selector)
	}

	var text string
	if src.Prefix != "" {
		found := false
		sel.EachWithBreak(func(_ int, el *goquery.Selection) bool {
			t := strings.TrimSpace(el.Text())
			if strings.HasPrefix(t, src.Prefix) {
				text, found = t, true
				return false
			}
			return true
		})
		if !found {
			return "", fmt.Errorf("no %q element starts with %q", src.Selector, src.Prefix)
		}
		text = strings.TrimPrefix(text, src.Prefix)
	} else {
		if src.Index < 0 || src.Index >= sel.Length() {
			return "", fmt.Errorf("index %d out of range: %q matched %d elements",
				src.Index, src.Selector, sel.Length())
		}
		text = strings.TrimSpace(sel.Eq(src.Index).Text())
	}

	text = strings.TrimSpace(text)
	if src.Suffix != "" {
		text = strings.TrimSuffix(text, src.Suffix)
	}
	return text, nil
}
