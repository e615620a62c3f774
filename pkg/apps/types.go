// Package apps wraps the daemon's application methods in typed calls.
package apps

import (
	"encoding/json"
	"fmt"
)

// Catalog is one catalog as returned by catalog.query with item details.
type Catalog struct {
	ID     string                          `json:"id"`
	Label  string                          `json:"label"`
	Trains map[string]map[string]ChartItem `json:"trains"`
}

// ChartItem is one installable chart of a catalog train.
type ChartItem struct {
	Name     string                  `json:"name"`
	IconURL  string                  `json:"icon_url,omitempty"`
	Versions map[string]ChartVersion `json:"versions"`
}

// ChartVersion holds the details of a single chart version.
type ChartVersion struct {
	AppReadme string          `json:"app_readme,omitempty"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

// KubernetesConfig is the container runtime configuration. Pool is nil when unset.
type KubernetesConfig struct {
	Pool *string `json:"pool"`
	KubernetesSettings
}

// KubernetesSettings are the advanced container runtime settings. In an update, empty fields are
// left unchanged.
type KubernetesSettings struct {
	ClusterCIDR      string `json:"cluster_cidr,omitempty" yaml:"cluster_cidr,omitempty"`
	ServiceCIDR      string `json:"service_cidr,omitempty" yaml:"service_cidr,omitempty"`
	ClusterDNSIP     string `json:"cluster_dns_ip,omitempty" yaml:"cluster_dns_ip,omitempty"`
	NodeIP           string `json:"node_ip,omitempty" yaml:"node_ip,omitempty"`
	RouteV4Interface string `json:"route_v4_interface,omitempty" yaml:"route_v4_interface,omitempty"`
	RouteV4Gateway   string `json:"route_v4_gateway,omitempty" yaml:"route_v4_gateway,omitempty"`
}

// Merge returns k with the non-empty fields of next applied.
func (k KubernetesSettings) Merge(next KubernetesSettings) KubernetesSettings {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&k.ClusterCIDR, next.ClusterCIDR},
		{&k.ServiceCIDR, next.ServiceCIDR},
		{&k.ClusterDNSIP, next.ClusterDNSIP},
		{&k.NodeIP, next.NodeIP},
		{&k.RouteV4Interface, next.RouteV4Interface},
		{&k.RouteV4Gateway, next.RouteV4Gateway},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	return k
}

// PoolName returns the bound pool or "".
func (k KubernetesConfig) PoolName() string {
	if k.Pool == nil {
		return ""
	}
	return *k.Pool
}

// Pool is a storage pool.
type Pool struct {
	Name string `json:"name"`
}

// ChartMetadata is the chart section of a release.
type ChartMetadata struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	LatestChartVersion string `json:"latest_chart_version"`
	Description        string `json:"description"`
	Icon               string `json:"icon,omitempty"`
}

// PodStatus counts the pods of a release.
type PodStatus struct {
	Available int `json:"available"`
	Desired   int `json:"desired"`
}

// UsedPort is a port published by a release.
type UsedPort struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// ReleaseStats is the resource usage of a release's pods.
type ReleaseStats struct {
	CPUMilliCores int64 `json:"cpu"`
	MemoryBytes   int64 `json:"memory"`
}

// ChartRelease is an installed release as returned by chart.release.query.
type ChartRelease struct {
	Name            string                     `json:"name"`
	ID              string                     `json:"id"`
	Catalog         string                     `json:"catalog"`
	CatalogTrain    string                     `json:"catalog_train"`
	Status          string                     `json:"status"`
	ChartMetadata   ChartMetadata              `json:"chart_metadata"`
	UpdateAvailable bool                       `json:"update_available"`
	Config          map[string]any             `json:"config"`
	Portals         map[string][]string        `json:"portals,omitempty"`
	PodStatus       PodStatus                  `json:"pod_status"`
	UsedPorts       []UsedPort                 `json:"used_ports"`
	History         map[string]json.RawMessage `json:"history,omitempty"`
	Stats           *ReleaseStats              `json:"stats,omitempty"`
}

// Image returns the container image configured under config.image.
func (r ChartRelease) Image() (repository, tag string) {
	image, ok := r.Config["image"].(map[string]any)
	if !ok {
		return "", ""
	}
	if v, ok := image["repository"]; ok && v != nil {
		repository = fmt.Sprint(v)
	}
	if v, ok := image["tag"]; ok && v != nil {
		tag = fmt.Sprint(v)
	}
	return repository, tag
}

// ScaleOptions is the argument of chart.release.scale.
type ScaleOptions struct {
	ReplicaCount int `json:"replica_count"`
}

// RollbackOptions is the argument of chart.release.rollback.
type RollbackOptions struct {
	ItemVersion      string `json:"item_version"`
	RollbackSnapshot bool   `json:"rollback_snapshot"`
	Force            bool   `json:"force"`
}

// ImagePull is the argument of container.image.pull.
type ImagePull struct {
	FromImage string `json:"from_image"`
	Tag       string `json:"tag,omitempty"`
}

// CreateRequest is the argument of chart.release.create.
type CreateRequest struct {
	ReleaseName string         `json:"release_name"`
	Catalog     string         `json:"catalog"`
	Train       string         `json:"train"`
	Item        string         `json:"item"`
	Version     string         `json:"version"`
	Values      map[string]any `json:"values"`
}

// UpdateRequest is the second argument of chart.release.update.
type UpdateRequest struct {
	Values map[string]any `json:"values"`
}

// PoolUpdate is the argument of kubernetes.update. A nil Pool unsets it.
type PoolUpdate struct {
	Pool *string `json:"pool"`
}

// ConsoleChoices maps pod names to their containers.
type ConsoleChoices map[string][]string
