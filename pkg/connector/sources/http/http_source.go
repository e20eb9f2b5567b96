// Package http implements a source that reads files published at HTTP(S)
// URLs. Discovery issues one HEAD request per URL; payloads are only
// transferred when a stream is opened.
package http

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Type is the registry name of the source.
const Type = "http"

const (
	defaultRequestsPerSecond = 10.0
	defaultTimeout           = 60 * time.Second
	userAgent                = "datapkg-client"
)

// Source discovers files behind HTTP(S) URLs.
type Source struct {
	logger *zap.Logger
	// transport is replaced in tests
	transport http.RoundTripper
}

// NewSource creates an HTTP source.
func NewSource(logger *zap.Logger) (core.Source, error) {
	return &Source{logger: logger}, nil
}

// Type implements core.Source.
func (s *Source) Type() string { return Type }

// RepositoryIdentifier is the host of the first URL.
func (s *Source) RepositoryIdentifier(connection config.Values) (string, error) {
	uris, err := parseURIs(connection)
	if err != nil {
		return "", err
	}
	return uris[0].Host, nil
}

type client struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

func (s *Source) newClient(credentials, configuration config.Values) *client {
	rps := defaultRequestsPerSecond
	if v, ok := configuration.GetFloat("requestsPerSecond"); ok && v > 0 {
		rps = v
	}
	timeout := defaultTimeout
	if v, ok := configuration.GetFloat("timeoutSeconds"); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if s.transport != nil {
		rc.SetTransport(s.transport)
	}
	if token := credentials.GetString("token"); token != "" {
		rc.SetAuthToken(token)
	} else if user := credentials.GetString("username"); user != "" {
		rc.SetBasicAuth(user, credentials.GetString("password"))
	}

	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &client{resty: rc, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Discover issues a HEAD request per URL, concurrently, and returns one
// descriptor per URL in configuration order. Servers that refuse HEAD yield
// descriptors without size or fingerprint.
func (s *Source) Discover(ctx context.Context, connection, credentials, configuration config.Values) ([]*core.StreamDescriptor, error) {
	uris, err := parseURIs(connection)
	if err != nil {
		return nil, err
	}
	c := s.newClient(credentials, configuration)

	descriptors := make([]*core.StreamDescriptor, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range uris {
		i, u := i, u
		g.Go(func() error {
			d, err := s.probe(gctx, c, u)
			if err != nil {
				return err
			}
			descriptors[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func (s *Source) probe(ctx context.Context, c *client, u *url.URL) (*core.StreamDescriptor, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	}
	resp, err := c.resty.R().SetContext(ctx).Head(u.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("HEAD %s failed", u.Redacted()))
	}

	name := FileName(u, "")
	d := core.NewStreamDescriptor(name, u.String(), base.StreamSetSlug(name), s.opener(c, u))

	switch code := resp.StatusCode(); {
	case code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented:
		s.logger.Debug("server refused HEAD, metadata unknown until open", zap.String("url", u.Redacted()))
		return d, nil
	case code >= 400:
		return nil, statusError("HEAD", u, code)
	}

	h := resp.Header()
	if n := FileName(u, h.Get("Content-Disposition")); n != name {
		d.Name = n
		d.StreamSetSlug = base.StreamSetSlug(n)
	}
	d.Size = contentLength(h)
	d.MimeType = h.Get("Content-Type")
	d.Fingerprint = h.Get("Last-Modified")
	if d.Fingerprint == "" {
		d.Fingerprint = h.Get("ETag")
	}
	s.logger.Debug("probed stream",
		zap.String("url", u.Redacted()),
		zap.String("name", d.Name),
		zap.Int64("size", d.Size),
		zap.String("fingerprint", d.Fingerprint))
	return d, nil
}

func (s *Source) opener(c *client, u *url.URL) core.Opener {
	return func(ctx context.Context) (*core.OpenedStream, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}
		resp, err := c.resty.R().SetContext(ctx).SetDoNotParseResponse(true).Get(u.String())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("GET %s failed", u.Redacted()))
		}
		body := resp.RawBody()
		if code := resp.StatusCode(); code >= 400 {
			body.Close()
			return nil, statusError("GET", u, code)
		}

		h := resp.Header()
		return &core.OpenedStream{
			Reader:   body,
			Size:     contentLength(h),
			MimeType: h.Get("Content-Type"),
			Encoding: h.Get("Content-Encoding"),
			// an ETag is more precise than the Last-Modified seen by HEAD
			Fingerprint: h.Get("ETag"),
		}, nil
	}
}

func statusError(method string, u *url.URL, code int) error {
	msg := fmt.Sprintf("%s %s returned %d %s", method, u.Redacted(), code, http.StatusText(code))
	var err *errors.Error
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = errors.New(errors.ErrorTypePermission, msg)
	case http.StatusNotFound, http.StatusGone:
		err = errors.New(errors.ErrorTypeNotFound, msg)
	default:
		err = errors.New(errors.ErrorTypeConnection, msg)
	}
	return err.WithDetail("status", code)
}

func parseURIs(connection config.Values) ([]*url.URL, error) {
	raw := connection.GetStrings("uris")
	if len(raw) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "the http source requires at least one URL in uris")
	}
	out := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(strings.TrimSpace(r))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("%q is not an http(s) URL", r)).
				WithDetail("uri", r)
		}
		out = append(out, u)
	}
	return out, nil
}

// FileName derives a stream name from a Content-Disposition header, falling
// back to the last path segment of the URL and then its host.
func FileName(u *url.URL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := path.Base(params["filename"]); params["filename"] != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if seg := path.Base(u.Path); seg != "." && seg != "/" && seg != "" {
		if unescaped, err := url.PathUnescape(seg); err == nil {
			return unescaped
		}
		return seg
	}
	return u.Hostname()
}

func contentLength(h http.Header) int64 {
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
