// Package docker names the containers behind ports published by docker-proxy.
package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

// containerLister is the part of the Docker API client Lookup needs.
type containerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

// Lookup maps published host ports to running containers.
type Lookup struct {
	client containerLister
	closer func() error
}

// NewLookup creates a Lookup talking to the daemon configured in the
// environment (DOCKER_HOST and friends). No connection is made until the
// first query.
func NewLookup() (*Lookup, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Lookup{client: cli, closer: cli.Close}, nil
}

// Close closes the Docker client.
func (l *Lookup) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}

// PublishedPorts returns the container publishing each host port.
func (l *Lookup) PublishedPorts(ctx context.Context) (map[int]portmgr.Container, error) {
	containers, err := l.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	published := make(map[int]portmgr.Container)
	for _, c := range containers {
		info := portmgr.Container{Name: containerName(c), Image: c.Image}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			published[int(p.PublicPort)] = info
		}
	}
	return published, nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
