// Copyright 2024 The rollstack authors
// This file is part of the rollstack library.
//
// The rollstack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The rollstack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the rollstack library. If not, see <http://www.gnu.org/licenses/>.

// Package influxdb periodically pushes the metrics registry to an InfluxDB
// instance, the same role the teacher's metrics/influxdb reporter plays.
package influxdb

import (
	"context"
	"time"

	client "github.com/influxdata/influxdb/client/v2"

	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/metrics"
)

// Config describes where and how often to push.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Interval time.Duration
	Tags     map[string]string
}

// Reporter owns the background push loop.
type Reporter struct {
	cfg Config
	c   client.Client
	log glog.Logger
}

// New dials the InfluxDB HTTP client; dialing is lazy in the real client so
// this never blocks on network I/O.
func New(cfg Config) (*Reporter, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Reporter{cfg: cfg, c: c, log: glog.New("component", "metrics/influxdb")}, nil
}

// Run pushes a batch point on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.push(); err != nil {
				r.log.Warn("failed to push metrics to influxdb", "err", err)
			}
		}
	}
}

func (r *Reporter) push() error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: r.cfg.Database})
	if err != nil {
		return err
	}
	now := time.Now()
	for name, val := range metrics.Snapshot() {
		pt, err := client.NewPoint(name, r.cfg.Tags, map[string]interface{}{"value": val}, now)
		if err != nil {
			continue
		}
		bp.AddPoint(pt)
	}
	return r.c.Write(bp)
}
