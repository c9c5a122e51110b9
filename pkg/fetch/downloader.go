package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// PartSuffix marks a file whose transfer has not finished.
// A complete file only ever appears under its final name via rename.
const PartSuffix = ".part"

// sniffLen is how many leading bytes filetype needs to recognise a format
const sniffLen = 262

// Downloader streams remote files to disk, one attempt per call
type Downloader struct {
	client      *http.Client
	userAgent   string
	verifyAudio bool
	log         *logrus.Entry
}

// NewDownloader creates a Downloader. The client should come from NewDownloadClient.
func NewDownloader(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Downloader {
	return &Downloader{
		client:      client,
		userAgent:   cfg.DefaultUserAgent,
		verifyAudio: cfg.VerifyAudio,
		log:         log,
	}
}

// Download transfers rawURL to destPath and returns the bytes written.
// On any failure nothing is left at destPath+PartSuffix, and a zero-byte destPath is removed.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string) (written int64, err error) {
	dlLog := d.log.WithFields(logrus.Fields{"url": rawURL, "dest": destPath})
	partPath := destPath + PartSuffix

	success := false
	defer func() {
		if success {
			return
		}
		if rmErr := os.Remove(partPath); rmErr != nil && !os.IsNotExist(rmErr) {
			dlLog.Warnf("Failed to remove partial file: %v", rmErr)
		}
		removeIfEmpty(destPath, dlLog)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: GET %s: %w", utils.ErrCancelled, rawURL, ctx.Err())
		}
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		// Whatever sits at destPath cannot be trusted once the server refuses the file
		if rmErr := os.Remove(destPath); rmErr != nil && !os.IsNotExist(rmErr) {
			dlLog.Warnf("Failed to remove destination after HTTP %d: %v", resp.StatusCode, rmErr)
		}
		return 0, utils.NewHTTPError(resp.StatusCode, rawURL)
	}

	file, err := os.Create(partPath)
	if err != nil {
		return 0, utils.WrapErrorf(utils.ErrFilesystem, err, "create '%s'", partPath)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			return written, fmt.Errorf("%w: transfer of %s interrupted: %w", utils.ErrCancelled, rawURL, ctx.Err())
		}
		return written, fmt.Errorf("transfer of %s failed after %d bytes: %w", rawURL, written, copyErr)
	}
	if closeErr != nil {
		return written, utils.WrapErrorf(utils.ErrFilesystem, closeErr, "close '%s'", partPath)
	}
	if written == 0 {
		return 0, fmt.Errorf("%w: %s", utils.ErrEmptyTransfer, rawURL)
	}

	if d.verifyAudio {
		if err := sniffAudio(partPath); err != nil {
			return written, err
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return written, utils.WrapErrorf(utils.ErrFilesystem, err, "rename '%s'", partPath)
	}
	success = true
	dlLog.WithField("bytes", written).Debug("Transfer complete")
	return written, nil
}

// sniffAudio rejects files whose header does not look like a known audio format,
// which catches HTML error pages served with a 200 status.
func sniffAudio(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "open '%s'", path)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "read '%s'", path)
	}
	if !filetype.IsAudio(head[:n]) {
		kind, _ := filetype.Match(head[:n])
		return fmt.Errorf("%w: detected %q", utils.ErrUnexpectedContent, kind.MIME.Value)
	}
	return nil
}

// removeIfEmpty deletes path when it exists with zero size
func removeIfEmpty(path string, log *logrus.Entry) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warnf("Failed to remove zero-byte leftover: %v", err)
	}
}
