// Package probe measures device reachability: ICMP echo for hosts, an HTTP
// HEAD round-trip for websites and TCP connects for declared services.
package probe

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog"

	"devwatch/internal/models"
)

const (
	DefaultPingTimeout    = 2 * time.Second
	DefaultWebsiteTimeout = 3 * time.Second
	DefaultServiceTimeout = 2 * time.Second
)

type Options struct {
	PingTimeout    time.Duration
	PingCount      int
	Privileged     bool
	WebsiteTimeout time.Duration
	ServiceTimeout time.Duration
}

// PingFunc sends ICMP echo requests to host and reports the raw statistics.
type PingFunc func(ctx context.Context, host string, count int, timeout time.Duration) (*ping.Statistics, error)

type Prober struct {
	opts Options
	log  zerolog.Logger

	Ping PingFunc
	HTTP *http.Client
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func New(opts Options, logger zerolog.Logger) *Prober {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.PingCount <= 0 {
		opts.PingCount = 1
	}
	if opts.WebsiteTimeout <= 0 {
		opts.WebsiteTimeout = DefaultWebsiteTimeout
	}
	if opts.ServiceTimeout <= 0 {
		opts.ServiceTimeout = DefaultServiceTimeout
	}
	p := &Prober{
		opts: opts,
		log:  logger.With().Str("module", "probe").Logger(),
		HTTP: &http.Client{
			Timeout: opts.WebsiteTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	p.Ping = p.icmp
	p.Dial = (&net.Dialer{}).DialContext
	return p
}

// Probe never fails: every error becomes an unreachable result.
func (p *Prober) Probe(ctx context.Context, d models.Device) models.ProbeResult {
	if d.Kind == models.KindWebsite {
		return p.probeWebsite(ctx, d.Host)
	}
	return p.probeICMP(ctx, d.Host)
}

func unreachable() models.ProbeResult {
	return models.ProbeResult{Reachable: false, LatencyMs: 0, PacketLossPct: 100}
}

func (p *Prober) probeICMP(ctx context.Context, host string) models.ProbeResult {
	stats, err := p.Ping(ctx, host, p.opts.PingCount, p.opts.PingTimeout)
	if err != nil {
		p.log.Debug().Err(err).Str("host", host).Msg("ping failed")
		return unreachable()
	}
	if stats == nil || stats.PacketsRecv == 0 {
		return unreachable()
	}
	res := models.ProbeResult{Reachable: true}
	if stats.AvgRtt > 0 {
		res.LatencyMs = math.Round(float64(stats.AvgRtt) / float64(time.Millisecond))
	}
	if !math.IsNaN(stats.PacketLoss) && stats.PacketLoss > 0 {
		res.PacketLossPct = stats.PacketLoss
	}
	return res
}

func (p *Prober) icmp(ctx context.Context, host string, count int, timeout time.Duration) (*ping.Statistics, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return nil, err
	}
	pinger.Count = count
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.opts.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return nil, err
	}
	return pinger.Statistics(), nil
}

func (p *Prober) probeWebsite(ctx context.Context, host string) models.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.opts.WebsiteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, websiteURL(host), nil)
	if err != nil {
		return unreachable()
	}
	start := time.Now()
	res, err := p.HTTP.Do(req)
	if err != nil {
		p.log.Debug().Err(err).Str("host", host).Msg("website check failed")
		return unreachable()
	}
	_ = res.Body.Close()
	return models.ProbeResult{
		Reachable: true,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}
}

func websiteURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}
