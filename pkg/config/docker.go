package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

var (
	dockerOnce sync.Once
	inDocker   bool

	// detectDocker is swapped in tests.
	detectDocker = func() bool {
		_, err := os.Stat("/.dockerenv")
		return err == nil
	}
)

// IsRunningInDocker reports whether /.dockerenv exists. Checked once per process.
func IsRunningInDocker() bool {
	dockerOnce.Do(func() { inDocker = detectDocker() })
	return inDocker
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ResolveHostForDocker maps a loopback host to the Docker host gateway when
// running in a container, so the operational store, Redis and a local
// warehouse published on the host stay reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() || !isLoopback(host) {
		return host
	}
	return dockerHostGateway
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of a
// connection URL, keeping port, credentials and query intact. Unparseable
// input is returned unchanged.
func ResolveURLForDocker(raw string) string {
	if raw == "" || !IsRunningInDocker() {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Hostname()
	if !isLoopback(host) {
		return raw
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(dockerHostGateway, port)
	} else {
		u.Host = dockerHostGateway
	}
	return u.String()
}

// ConnURL is the warehouse URL as seen from this process.
func (w *WarehouseConfig) ConnURL() string {
	return ResolveURLForDocker(w.URL)
}
