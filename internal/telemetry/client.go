// Package telemetry records climate and battery readings in InfluxDB.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/micro-ha/hive-bridge/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	batchSize             = 50
	flushIntervalMs       = 10_000
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Client owns the non-blocking write API. Write errors arrive
// asynchronously and are logged.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	done     chan struct{}
}

func Connect(cfg config.InfluxConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(batchSize).SetFlushInterval(flushIntervalMs))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		for err := range c.writeAPI.Errors() {
			logger.Warn("influxdb write failed", "err", err)
		}
	}()
	return c, nil
}

func (c *Client) WritePoint(point *write.Point) {
	c.writeAPI.WritePoint(point)
}

// Close flushes pending points and closes the client.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
