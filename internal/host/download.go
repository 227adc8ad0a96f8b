// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// progressInterval throttles download progress events.
const progressInterval = 100 * time.Millisecond

// DownloadServerBinaries downloads the release asset of server/variant
// for the host platform (or osOverride) and installs it into
// runtime/<server>/<variant>. Progress runs 0-50 for the transfer and
// 50-100 for extraction.
func (h *Host) DownloadServerBinaries(ctx context.Context, server model.ServerKind, variant, osOverride string) error {
	goos := h.goos
	if strings.TrimSpace(osOverride) != "" {
		goos = osOverride
	}
	url, err := h.resolveURL(server, variant, goos, h.goarch, h.runtime.LlamaReleaseTag)
	if err != nil {
		return err
	}
	log.Printf("host: downloading %s %s from %s", server, variant, url)

	h.progress(events.TopicBinaryDownload, 0, "Starting download...")

	if err := os.MkdirAll(h.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	ext := archiveExt(url)
	tmp := filepath.Join(h.dataDir, fmt.Sprintf("%s_%s_temp%s", server, variant, ext))

	if err := h.fetchWithResume(ctx, url, tmp); err != nil {
		return err
	}

	target := h.RuntimeDir(server, variant)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create runtime dir: %w", err)
	}

	h.progress(events.TopicBinaryDownload, 50, "Extracting archive...")

	switch ext {
	case ".zip":
		err = extractZip(tmp, target, func(i, n int) {
			h.progress(events.TopicBinaryDownload, 50+i*50/n, fmt.Sprintf("Unpacking %d/%d", i+1, n))
		})
		if err == nil {
			os.Remove(tmp)
		}
	case ".tgz":
		err = extractTarGz(tmp, target)
		if err == nil {
			os.Remove(tmp)
			h.progress(events.TopicBinaryDownload, 100, "Extraction completed")
		}
	case ".dmg":
		err = moveFile(tmp, filepath.Join(target, path.Base(url)))
		if err == nil {
			h.progress(events.TopicBinaryDownload, 100, "DMG file saved")
		}
	default:
		err = moveFile(tmp, filepath.Join(target, path.Base(url)))
		if err == nil {
			h.progress(events.TopicBinaryDownload, 100, "Download completed")
		}
	}
	if err != nil {
		return err
	}
	log.Printf("host: installed %s %s into %s", server, variant, target)
	return nil
}

func archiveExt(url string) string {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return ".zip"
	case strings.HasSuffix(url, ".tgz"), strings.HasSuffix(url, ".tar.gz"):
		return ".tgz"
	case strings.HasSuffix(url, ".dmg"):
		return ".dmg"
	default:
		return ".bin"
	}
}

// fetchWithResume downloads url into dst, resuming a partial file with an
// HTTP Range request. The partial file is kept between attempts.
func (h *Host) fetchWithResume(ctx context.Context, url, dst string) error {
	var lastErr error
	for attempt := 1; attempt <= h.runtime.DownloadAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("host: download attempt %d after: %v", attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.retryDelay):
			}
		}
		lastErr = h.fetchOnce(ctx, url, dst)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (h *Host) fetchOnce(ctx context.Context, url, dst string) error {
	var existing int64
	if fi, err := os.Stat(dst); err == nil {
		existing = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	req.Header.Set("User-Agent", "rigrun-chat")
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// The partial file is unusable; the next attempt starts fresh.
		os.Remove(dst)
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}
	resumed := resp.StatusCode == http.StatusPartialContent
	if resp.StatusCode != http.StatusOK && !resumed {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	var total int64
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resumed {
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	} else {
		// The server ignored the range; start over.
		existing = 0
		total = resp.ContentLength
	}

	f, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	limiter := rate.NewLimiter(rate.Every(progressInterval), 1)
	downloaded := existing
	buf := make([]byte, 64*1024)
	var streamErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				streamErr = fmt.Errorf("write error: %w", werr)
				break
			}
			downloaded += int64(n)
			if limiter.Allow() {
				h.progress(events.TopicBinaryDownload, transferPercent(downloaded, total), transferMessage(downloaded, total))
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			streamErr = fmt.Errorf("data read error: %w", rerr)
			break
		}
	}

	if err := w.Flush(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("write error: %w", err)
	}
	if err := f.Close(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("write error: %w", err)
	}
	if streamErr != nil {
		return streamErr
	}

	if total > 0 && downloaded < total {
		return fmt.Errorf("downloaded %s of %s", util.FormatSize(downloaded), util.FormatSize(total))
	}
	return nil
}

// transferPercent maps transferred bytes onto 0-50.
func transferPercent(done, total int64) int {
	if total <= 0 {
		return 25
	}
	p := int(done * 50 / total)
	if p > 50 {
		p = 50
	}
	return p
}

func transferMessage(done, total int64) string {
	if total > 0 {
		return fmt.Sprintf("Downloaded %s of %s", util.FormatSize(done), util.FormatSize(total))
	}
	return "Downloaded " + util.FormatSize(done)
}

// parseContentRangeTotal reads the total from "bytes 100-999/1234".
func parseContentRangeTotal(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
