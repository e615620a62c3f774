package term

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"apps-console/pkg/ui"
)

// Notifier prints notices to Out.
type Notifier struct {
	Out io.Writer
}

func (n *Notifier) Info(title, message string) {
	fmt.Fprintf(n.Out, "%s %s\n", titleStyle.Render(title+":"), message)
}

// Navigator has no screens to switch to; it tells the user where to go in the web interface.
type Navigator struct {
	Out io.Writer
	// WebURL maps a route to the web interface address.
	WebURL func(route string) string
	Log    *logrus.Entry
}

func (n *Navigator) Navigate(_ context.Context, segments ...string) error {
	if len(segments) == 1 && (strings.HasPrefix(segments[0], "http://") || strings.HasPrefix(segments[0], "https://")) {
		fmt.Fprintf(n.Out, "Open %s\n", segments[0])
		return nil
	}
	route := ui.Route(segments...)
	if strings.HasPrefix(route, ui.RouteShell+"/") {
		// The shell command attaches itself.
		if n.Log != nil {
			n.Log.WithField("route", route).Debug("Shell route selected")
		}
		return nil
	}
	target := route
	if n.WebURL != nil {
		target = n.WebURL(route)
	}
	fmt.Fprintf(n.Out, "Continue in the web interface: %s\n", target)
	return nil
}
