// Package discovery advertises the baby device on the local network and
// discovers baby devices from the parent, using mDNS / DNS-SD.
package discovery

import (
	"net"
	"sort"
	"strings"
)

// Reference service identity.
const (
	ServiceType = "_http._tcp."
	Domain      = "local."
	ServiceName = "Baby Monitor Service"

	// SignalingScheme prefixes signaling URLs built from descriptors.
	SignalingScheme = "ws"
)

// ServiceDescriptor identifies one discovered endpoint. Two descriptors
// denote the same endpoint when Host and Port match.
type ServiceDescriptor struct {
	Name string
	Host string
	Port string
}

// Key returns the dedup key host:port.
func (d ServiceDescriptor) Key() string {
	return net.JoinHostPort(d.Host, d.Port)
}

// SignalingURL returns ws://<host>:<port>.
func (d ServiceDescriptor) SignalingURL() string {
	return SignalingScheme + "://" + d.Key()
}

// sortDescriptors orders a set deterministically for publishing.
func sortDescriptors(ds []ServiceDescriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Name != ds[j].Name {
			return ds[i].Name < ds[j].Name
		}
		return ds[i].Key() < ds[j].Key()
	})
}

// zeroconfService converts "_http._tcp." to the "_http._tcp" form
// grandcat/zeroconf expects.
func zeroconfService(service string) string {
	return strings.TrimSuffix(service, ".")
}

// zeroconfDomain makes sure the domain is fully qualified.
func zeroconfDomain(domain string) string {
	if domain == "" {
		return Domain
	}
	if !strings.HasSuffix(domain, ".") {
		return domain + "."
	}
	return domain
}
