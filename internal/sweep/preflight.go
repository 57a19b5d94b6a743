package sweep

import (
	"context"
	"net/http"
	"time"

	"gpusweep/internal/logging"

	"github.com/alitto/pond/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const preflightWorkers = 4

// Preflight probes every artifact URL the setup commands download, so a dead
// mirror is reported before any instance is paid for. Failures are warnings
// only; the sweep proceeds regardless.
func (s *Sweeper) Preflight(ctx context.Context) {
	urls := ExtractURLs(s.setupCommands())
	if len(urls) == 0 {
		return
	}

	logging.Logger().Info("preflight: probing artifact URLs", zap.Strings("urls", urls))

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	pool := pond.NewPool(preflightWorkers)
	for _, url := range urls {
		pool.Submit(func() {
			probe(ctx, client, url)
		})
	}
	pool.StopAndWait()
}

// probe issues a HEAD request and logs anything other than a 2xx answer
func probe(ctx context.Context, client *retryablehttp.Client, url string) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		logging.Logger().Warn("preflight: invalid URL", zap.String("url", url), zap.Error(err))
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		logging.Logger().Warn("preflight: probe failed", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logging.Logger().Warn("preflight: artifact unavailable",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return
	}

	logging.Logger().Debug("preflight: artifact reachable",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode))
}
