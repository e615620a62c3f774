// Package releases keeps the list of installed chart releases in sync with the daemon and runs
// the per-release actions.
package releases

import (
	"fmt"
	"strings"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
)

// StatusDeploying is reported while a release rolls out.
const StatusDeploying = "DEPLOYING"

// Release is the rendered view of an installed chart release.
type Release struct {
	Name            string             `json:"name"`
	Catalog         string             `json:"catalog"`
	CatalogTrain    string             `json:"catalog_train"`
	Status          string             `json:"status"`
	Version         string             `json:"version"`
	LatestVersion   string             `json:"latest_version"`
	Description     string             `json:"description"`
	UpdateAvailable bool               `json:"update"`
	ChartName       string             `json:"chart_name"`
	Repository      string             `json:"repository"`
	Tag             string             `json:"tag"`
	Portal          string             `json:"portal,omitempty"`
	Icon            string             `json:"icon"`
	Count           string             `json:"count"`
	Desired         int                `json:"desired"`
	UsedPorts       string             `json:"used_ports"`
	HasHistory      bool               `json:"history"`
	Kind            appcatalog.Kind    `json:"kind"`
	Stats           *apps.ReleaseStats `json:"stats,omitempty"`
}

// FromChartRelease builds the view record of a daemon release.
func FromChartRelease(cr apps.ChartRelease) Release {
	repository, tag := cr.Image()
	icon := cr.ChartMetadata.Icon
	if icon == "" {
		icon = appcatalog.DefaultIcon
	}
	var portal string
	if web := cr.Portals["web_portal"]; len(web) > 0 {
		portal = web[0]
	}
	return Release{
		Name:            cr.Name,
		Catalog:         cr.Catalog,
		CatalogTrain:    cr.CatalogTrain,
		Status:          cr.Status,
		Version:         cr.ChartMetadata.Version,
		LatestVersion:   cr.ChartMetadata.LatestChartVersion,
		Description:     cr.ChartMetadata.Description,
		UpdateAvailable: cr.UpdateAvailable,
		ChartName:       cr.ChartMetadata.Name,
		Repository:      repository,
		Tag:             tag,
		Portal:          portal,
		Icon:            icon,
		Count:           fmt.Sprintf("%d/%d", cr.PodStatus.Available, cr.PodStatus.Desired),
		Desired:         cr.PodStatus.Desired,
		UsedPorts:       FormatPorts(cr.UsedPorts),
		HasHistory:      len(cr.History) > 0,
		Kind:            appcatalog.KindOf(cr.ChartMetadata.Name),
		Stats:           cr.Stats,
	}
}

// FormatPorts renders ports as "port\protocol" joined by ", ".
func FormatPorts(ports []apps.UsedPort) string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, fmt.Sprintf(`%d\%s`, p.Port, p.Protocol))
	}
	return strings.Join(out, ", ")
}
