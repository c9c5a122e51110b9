package resolve

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// albumNotes converts the album info block into Markdown headed by the album title.
// Returns "" with no error when the page has no info block.
func albumNotes(doc *goquery.Document, title string) (string, error) {
	block := doc.Find(notesBlockSelector).First()
	if block.Length() == 0 {
		return "", nil
	}

	// Work on a copy so the caller's document keeps its scripts and images
	block = block.Clone()
	block.Find("script, style, img, iframe").Remove()

	blockHTML, err := goquery.OuterHtml(block)
	if err != nil {
		return "", fmt.Errorf("failed getting info block HTML: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	body, err := converter.ConvertString(blockHTML)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil
	}
	return fmt.Sprintf("# %s\n\n%s\n", title, body), nil
}
