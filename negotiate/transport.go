package negotiate

import "net/http"

// Transport wraps base so that every request sent through it negotiates on a
// Negotiate challenge. A nil base uses http.DefaultTransport.
//
//	hc := &http.Client{Transport: client.Transport(nil)}
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{client: c, base: base}
}

type roundTripper struct {
	client *Client
	base   http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	return rt.client.run(req.Context(), req, body, rt.base.RoundTrip)
}
