package hac

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"time"

	"graderade/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// what a page fetch or form submission came back with. FinalURL is the
// url after redirects, which the login classifier inspects.
type Page struct {
	StatusCode int
	FinalURL   string
	Body       string
}

func (p Page) Successful() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Transport is the boundary to the HTTP layer. Implementations must
// persist and replay cookies across calls on one logical session; the
// portal's session lives entirely in its cookie. Non-2xx responses are
// returned as pages, not errors.
type Transport interface {
	FetchPage(ctx context.Context, pageURL string) (Page, error)
	SubmitForm(ctx context.Context, pageURL string, fields map[string]string) (Page, error)
}

type restyTransport struct {
	http *resty.Client
}

// NewRestyTransport builds the production transport: cookie jar,
// domain-checked redirects, browser user-agent, 30s timeout, traced
// requests.
func NewRestyTransport(baseUrl *url.URL) (Transport, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/hac/http")

	return restyTransport{http: client}, nil
}

func (t restyTransport) FetchPage(ctx context.Context, pageURL string) (Page, error) {
	res, err := t.http.R().
		SetContext(ctx).
		Get(pageURL)
	if err != nil {
		return Page{}, err
	}
	return pageFromResponse(res), nil
}

func (t restyTransport) SubmitForm(ctx context.Context, pageURL string, fields map[string]string) (Page, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(pageURL)
	if err != nil {
		return Page{}, err
	}
	return pageFromResponse(res), nil
}

func pageFromResponse(res *resty.Response) Page {
	finalURL := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}
	return Page{
		StatusCode: res.StatusCode(),
		FinalURL:   finalURL,
		Body:       string(res.Body()),
	}
}
