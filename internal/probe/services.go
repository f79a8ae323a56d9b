package probe

import (
	"context"
	"net"
	"strconv"
	"sync"

	"devwatch/internal/models"
)

// ProbeServices connects to every declared service concurrently. The result
// keeps the configured order.
func (p *Prober) ProbeServices(ctx context.Context, d models.Device) []models.ServiceStatus {
	out := make([]models.ServiceStatus, len(d.Services))
	var wg sync.WaitGroup
	for i, svc := range d.Services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := models.ServiceDown
			if p.dialService(ctx, d.Host, svc.Port) {
				status = models.ServiceUp
			}
			out[i] = models.ServiceStatus{Name: svc.Name, Port: svc.Port, Status: status}
		}()
	}
	wg.Wait()
	return out
}

func (p *Prober) dialService(ctx context.Context, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ServiceTimeout)
	defer cancel()
	conn, err := p.Dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
