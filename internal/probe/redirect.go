package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// maxRedirects bounds the manual redirect chain.
const maxRedirects = 12

// redirectCodes are the status codes followed by the manual chain.
var redirectCodes = map[int]bool{
	http.StatusMovedPermanently:  true, // 301
	http.StatusFound:             true, // 302
	http.StatusSeeOther:          true, // 303
	http.StatusTemporaryRedirect: true, // 307
	http.StatusPermanentRedirect: true, // 308
}

// followRedirects issues a GET on startURL and follows up to maxRedirects
// redirect hops manually, combining relative Location values against the
// current URL. A hop to an already-seen URL terminates the chain and the
// last response is kept as final. The caller owns the returned response
// body.
func (p *Prober) followRedirects(ctx context.Context, startURL string) (*http.Response, string, error) {
	seen := map[string]bool{startURL: true}
	current := startURL

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, current, fmt.Errorf("probe: build request for %q: %w", current, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Accept-Encoding", acceptEncoding)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, current, fmt.Errorf("probe: GET %q: %w", current, err)
		}

		if hop >= maxRedirects || !redirectCodes[resp.StatusCode] {
			return resp, current, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, current, nil
		}
		currentU, err := url.Parse(current)
		if err != nil {
			return resp, current, nil
		}
		next, err := currentU.Parse(loc)
		if err != nil {
			return resp, current, nil
		}
		nextURL := next.String()
		if seen[nextURL] {
			// Redirect loop: keep the last response as the final one.
			return resp, current, nil
		}

		_ = resp.Body.Close()
		seen[nextURL] = true
		current = nextURL
	}
}
