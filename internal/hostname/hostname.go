// Package hostname validates and parses MLab node hostnames into the
// (node, site) pair used to name archives and sync-record keys.
package hostname

import (
	"fmt"
	"regexp"
	"strings"
)

var mlabHostname = regexp.MustCompile(
	`^(.*\.)?mlab[1-9]\.[a-z]{3}[0-9][0-9t]\.measurement-lab\.org$`)

// Identity is the canonical (node, site) pair derived from a validated
// MLab hostname, e.g. "ndt.iupui.mlab2.nuq1t.measurement-lab.org" yields
// node "mlab2", site "nuq1t".
type Identity struct {
	Host string
	Node string
	Site string
}

// ErrInvalidHostname is returned when a hostname does not match the MLab
// naming convention.
type ErrInvalidHostname struct {
	Host string
}

func (e *ErrInvalidHostname) Error() string {
	return fmt.Sprintf("hostname: bad mlab hostname %q", e.Host)
}

// Parse validates host against the MLab hostname convention and returns its
// (node, site) identity. Ignoring the "measurement-lab.org" suffix, the node
// is the second-to-last dot-separated label and the site is the label after
// it (the last one).
func Parse(host string) (Identity, error) {
	if !mlabHostname.MatchString(host) {
		return Identity{}, &ErrInvalidHostname{Host: host}
	}
	labels := strings.Split(host, ".")
	// labels ends in [..., node, site, "measurement-lab", "org"]
	if len(labels) < 4 {
		return Identity{}, &ErrInvalidHostname{Host: host}
	}
	node := labels[len(labels)-4]
	site := labels[len(labels)-3]
	return Identity{Host: host, Node: node, Site: site}, nil
}

// MustParse is like Parse but panics on error; intended for use in tests
// and flag defaults where the hostname is known-good.
func MustParse(host string) Identity {
	id, err := Parse(host)
	if err != nil {
		panic(err)
	}
	return id
}
