package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/fetch"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// UnknownAlbumTitle is used when the listing page carries no heading
const UnknownAlbumTitle = "Unknown Album"

// Selectors for the album listing and item pages
const (
	titleSelector      = "h2"
	itemRowSelector    = "table#songlist tr"
	itemLinkSelector   = "td.clickable-row a"
	losslessSelector   = `a[href*=".flac"]`
	lossySelector      = `a[href*=".mp3"]`
	playerSrcSelector  = "audio source"
	notesBlockSelector = `#pageContent p[align="left"]`
)

// Resolver turns album and item pages into structured data
type Resolver struct {
	fetcher      fetch.TextFetcher
	hostBase     string
	extractNotes bool
	log          *logrus.Entry
}

// NewResolver creates a Resolver that fetches through fetcher
func NewResolver(fetcher fetch.TextFetcher, cfg *config.AppConfig, log *logrus.Entry) *Resolver {
	hostBase := cfg.HostBase
	if hostBase == "" {
		hostBase = parse.DefaultHostBase
	}
	return &Resolver{
		fetcher:      fetcher,
		hostBase:     hostBase,
		extractNotes: cfg.WriteAlbumNotes,
		log:          log.WithField("component", "resolver"),
	}
}

// ResolveAlbum fetches an album listing and returns its title and item references.
// An album without items is not an error here; the caller decides what to do with it.
func (r *Resolver) ResolveAlbum(ctx context.Context, albumURL string) (*models.Album, error) {
	albumLog := r.log.WithField("album", albumURL)

	doc, err := r.fetchDocument(ctx, albumURL)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(titleSelector).First().Text())
	if title == "" {
		albumLog.Debug("No heading found, using placeholder title")
		title = UnknownAlbumTitle
	}

	var refs []string
	seen := make(map[string]bool)
	doc.Find(itemRowSelector).Each(func(_ int, row *goquery.Selection) {
		href, exists := row.Find(itemLinkSelector).First().Attr("href")
		if !exists || href == "" || seen[href] {
			return
		}
		seen[href] = true
		refs = append(refs, href)
	})

	album := &models.Album{Title: title, ItemRefs: refs}
	if r.extractNotes {
		notes, notesErr := albumNotes(doc, title)
		if notesErr != nil {
			albumLog.Warnf("Album notes skipped: %v", notesErr)
		} else {
			album.NotesMD = notes
		}
	}

	albumLog.WithFields(logrus.Fields{"title": title, "items": len(refs)}).Debug("Album resolved")
	return album, nil
}

// ResolveItem fetches one item page and picks its download link.
// Preference order is lossless link, lossy link, then the embedded player's source.
// A page with none of these yields an ItemLink with an empty DownloadURL and no error.
func (r *Resolver) ResolveItem(ctx context.Context, pageRef string) (*models.ItemLink, error) {
	pageURL, err := parse.ResolveReference(r.hostBase, pageRef)
	if err != nil {
		return nil, err
	}

	doc, err := r.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	link := &models.ItemLink{PageURL: pageURL}
	href := firstAttr(doc, losslessSelector, "href")
	if href == "" {
		href = firstAttr(doc, lossySelector, "href")
	}
	if href == "" {
		href = firstAttr(doc, playerSrcSelector, "src")
	}
	if href == "" {
		r.log.WithField("url", pageURL).Debug("No download link on item page")
		return link, nil
	}

	downloadURL, err := parse.ResolveReference(pageURL, href)
	if err != nil {
		return nil, err
	}
	link.DownloadURL = downloadURL
	link.FileName = parse.FileNameFromURL(downloadURL)
	return link, nil
}

func (r *Resolver) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := r.fetcher.FetchText(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from %s: %w", utils.ErrParsing, pageURL, err)
	}
	return doc, nil
}

// firstAttr returns the attribute of the first element matching selector, or ""
func firstAttr(doc *goquery.Document, selector, attr string) string {
	val, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(val)
}
