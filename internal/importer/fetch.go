package importer

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/bartek5186/hurtownia/internal/apperr"
)

// Fetch pobiera cennik z adresu partnera. Wywoływać poza transakcją.
// Treść jest przekodowywana do UTF-8, jeśli serwer podał charset.
func (i *Importer) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, apperr.New(apperr.Validation, "url: invalid address")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.Validation, "url: only http and https are supported")
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "url: invalid address", err)
	}
	req.Header.Set("Accept", "application/yaml, application/json, text/plain, */*")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "cannot fetch price list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.Upstream, "cannot fetch price list: %s returned %d", u.Host, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if cs := contentCharset(resp.Header.Get("Content-Type")); cs != "" {
		r, err := charset.NewReaderLabel(normalizeCharset(cs), resp.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.Upstream, fmt.Sprintf("cannot fetch price list: unsupported charset %q", cs), err)
		}
		body = r
	}

	data, err := io.ReadAll(io.LimitReader(body, i.opts.MaxBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "cannot fetch price list", err)
	}
	if int64(len(data)) > i.opts.MaxBytes {
		return nil, apperr.Newf(apperr.Validation, "document is larger than %d bytes", i.opts.MaxBytes)
	}
	return data, nil
}

func contentCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// normalizeCharset mapuje nietypowe etykiety na nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	case "cp1251", "windows1251", "win-1251":
		return "windows-1251"
	default:
		return c
	}
}
