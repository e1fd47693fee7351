package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sebasti810/lumina/internal/devnet"
)

// ServiceStatus describes one running (or exited) devnet container.
type ServiceStatus struct {
	Service   string
	Container string
	Image     string
	State     string
	Status    string
	Ports     []string
}

// Status returns the current devnet containers sorted by service name.
func (e *Engine) Status(ctx context.Context) ([]ServiceStatus, error) {
	summaries, err := e.devnetContainers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ServiceStatus, 0, len(summaries))
	for _, summary := range summaries {
		name := ""
		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}
		ports := make([]string, 0, len(summary.Ports))
		for _, p := range summary.Ports {
			if p.PublicPort == 0 {
				continue
			}
			ports = append(ports, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
		}
		sort.Strings(ports)
		out = append(out, ServiceStatus{
			Service:   summary.Labels[devnet.LabelService],
			Container: name,
			Image:     summary.Image,
			State:     summary.State,
			Status:    summary.Status,
			Ports:     ports,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}
