// Package fetch downloads links mentioned in chat into a local directory so
// later prompts can refer to them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"citrine/pkg/comlink"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	maxConcurrent   = 4
	titleReadLimit  = 1 << 20
	defaultFilename = "index.html"
)

var ErrTooLarge = errors.New("fetch: response exceeds size limit")

type Config struct {
	Dir      string
	MaxBytes int64
	Timeout  time.Duration
	// AllowPrivate lifts the private address guard. Only tests set it.
	AllowPrivate bool
	Logger       *zap.Logger
}

type Downloader struct {
	httpClient *http.Client
	dir        string
	maxBytes   int64
	log        *zap.Logger

	wg  sync.WaitGroup
	sem chan struct{}
	// nameMu keeps two downloads from picking the same file name.
	nameMu sync.Mutex
}

func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 25 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dial := ssrfDialContext
	if cfg.AllowPrivate {
		d := &net.Dialer{}
		dial = d.DialContext
	}

	return &Downloader{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: dial,
			},
		},
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		log:      cfg.Logger,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Fetch downloads every URL in the background. Failures are only logged.
func (d *Downloader) Fetch(ctx context.Context, urls []string) {
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-ctx.Done():
				return
			}
			name, err := d.Download(ctx, u)
			if err != nil {
				d.log.Debug("Download failed", zap.String("url", u), zap.Error(err))
				return
			}
			d.log.Info("Downloaded file", zap.String("url", u), zap.String("file", name))
		}()
	}
}

// Wait blocks until background downloads finish.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// Download fetches rawURL into the directory and returns the file name used.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch URL: status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return "", ErrTooLarge
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create files dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, d.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if closeErr != nil {
		return "", closeErr
	}
	if n > d.maxBytes {
		return "", ErrTooLarge
	}

	d.nameMu.Lock()
	defer d.nameMu.Unlock()
	name := d.uniqueName(filenameFor(parsedURL))
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return "", fmt.Errorf("store file: %w", err)
	}
	return name, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func filenameFor(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return defaultFilename
	}
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return defaultFilename
	}
	return base
}

// uniqueName appends .1, .2, ... when name is taken.
func (d *Downloader) uniqueName(name string) string {
	candidate := name
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(d.dir, candidate)); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = name + "." + strconv.Itoa(i)
	}
}

// List describes the downloaded files, oldest first. HTML pages carry their title.
func (d *Downloader) List() ([]comlink.FileInfo, error) {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []comlink.FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, comlink.FileInfo{
			Name:    e.Name(),
			Title:   d.title(e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })
	return files, nil
}

func (d *Downloader) title(name string) string {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, ".htm") {
		return ""
	}
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		return ""
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(f, titleReadLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Formatted renders the file listing for a prompt. Empty when there are no files.
func (d *Downloader) Formatted() string {
	files, err := d.List()
	if err != nil || len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Files I have downloaded:\n")
	for _, f := range files {
		b.WriteString("- ")
		b.WriteString(f.Name)
		if f.Title != "" {
			b.WriteString(" (")
			b.WriteString(f.Title)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
