// Package codesource fetches guest code from public IPFS HTTP gateways.
// The gateway list and the try-in-order policy live here, on the caller
// side of the code cache.
package codesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/codegate/pkg/util/resiliency"
)

// Known public gateways, roughly ordered by observed reliability.
// See https://ipfs.github.io/public-gateway-checker/
var DefaultGateways = []string{
	"https://gateway.pinata.cloud",
	"https://cloudflare-ipfs.com",
	"https://dweb.link",
	"https://ipfs.io",
	"https://ipfs.4everland.io",
	"https://hardbin.com",
	"https://runfission.com",
	"https://trustless-gateway.link",
	"https://nftstorage.link",
}

// FetchFunc resolves a content identifier to source text.
type FetchFunc func(ctx context.Context, cid string) (string, error)

// Fetcher resolves CIDs against one or more gateways. First success
// wins. Each gateway sits behind its own circuit breaker, so a dead
// one is skipped cheaply on subsequent fetches.
type Fetcher struct {
	gateways []string
	client   *resiliency.Client
}

// New creates a Fetcher over the given gateways. With no gateways the
// default public list is used.
func New(gateways ...string) *Fetcher {
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}
	return &Fetcher{
		gateways: gateways,
		client:   resiliency.NewClient(20 * time.Second),
	}
}

// Fetch tries each gateway in order and returns the first successful
// response body. All failures are joined into the returned error.
func (f *Fetcher) Fetch(ctx context.Context, cid string) (string, error) {
	var errs []error
	for _, gw := range f.gateways {
		code, err := f.fetchFrom(ctx, gw, cid)
		if err == nil {
			return code, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", gw, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("fetch %s: %w", cid, errors.Join(errs...))
}

func (f *Fetcher) fetchFrom(ctx context.Context, gateway, cid string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/ipfs/%s", gateway, cid), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FetchURL retrieves code from a fixed URL, used by the local
// development route where code is not content-addressed.
func FetchURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
