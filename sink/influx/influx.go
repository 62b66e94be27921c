// Package influx persists records to InfluxDB 1.x through the official
// client. Retry policy lives here, configured through the connection
// settings and never re-implemented by callers.
package influx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	log "github.com/sirupsen/logrus"

	"github.com/fluxlog/fluxlog/config"
)

// Sink writes one point per record. It is safe for concurrent use; the
// underlying client serializes writes over its own connection.
type Sink struct {
	c        client.Client
	database string
	retries  int
	backoff  time.Duration
}

// New builds a sink from the connection settings. UseUDP selects the
// UDP transport; HTTP honors SSL, certificate verification, timeout and
// proxy settings. The client owns its connection pooling, so PoolSize
// is accepted for configuration parity but not applied here.
func New(cfg config.Config) (*Sink, error) {
	var (
		c   client.Client
		err error
	)
	if cfg.UseUDP {
		c, err = client.NewUDPClient(client.UDPConfig{
			Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.UDPPort),
		})
	} else {
		scheme := "http"
		if cfg.SSL {
			scheme = "https"
		}
		httpCfg := client.HTTPConfig{
			Addr:               fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
			Username:           cfg.User,
			Password:           cfg.Password,
			Timeout:            time.Duration(cfg.TimeoutSec) * time.Second,
			InsecureSkipVerify: cfg.SSL && !cfg.VerifySSL,
		}
		if cfg.Proxy != "" {
			proxyURL, perr := url.Parse(cfg.Proxy)
			if perr != nil {
				return nil, fmt.Errorf("influx: invalid proxy url %q: %w", cfg.Proxy, perr)
			}
			httpCfg.Proxy = http.ProxyURL(proxyURL)
		}
		c, err = client.NewHTTPClient(httpCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("influx: creating client: %w", err)
	}

	return &Sink{
		c:        c,
		database: cfg.Database,
		retries:  cfg.Retries,
		backoff:  100 * time.Millisecond,
	}, nil
}

// Write persists a single point. A retry count of 0 keeps retrying
// until the write succeeds.
func (s *Sink) Write(ctx context.Context, measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.database,
		Precision: "ns",
	})
	if err != nil {
		return fmt.Errorf("influx: creating batch: %w", err)
	}
	pt, err := client.NewPoint(measurement, tags, fields, ts)
	if err != nil {
		return fmt.Errorf("influx: creating point: %w", err)
	}
	bp.AddPoint(pt)

	for attempt := 1; ; attempt++ {
		err = s.c.Write(bp)
		if err == nil {
			return nil
		}
		if s.retries > 0 && attempt >= s.retries {
			return fmt.Errorf("influx: writing point after %d attempts: %w", attempt, err)
		}
		log.Debugf("[fluxlog] influxdb write failed (attempt %d): %v", attempt, err)
		time.Sleep(s.backoff)
	}
}

// Close releases the underlying client connection.
func (s *Sink) Close() error {
	return s.c.Close()
}
