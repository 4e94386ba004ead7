// Package region describes the named clusters ("zones") that a bucket
// upload can target, each carrying ordered host lists per service.
package region

import "strings"

// Endpoints holds the HTTP and HTTPS variants of one service's host
// list for a region, preserving the preference order the caller
// configured them in.
type Endpoints struct {
	HTTP  []string
	HTTPS []string
}

// Hosts returns this service's host list with a scheme prefix applied,
// preferring the HTTPS list when useHTTPS is set and it is non-empty.
func (e Endpoints) Hosts(useHTTPS bool) []string {
	list := e.HTTP
	if useHTTPS && len(e.HTTPS) > 0 {
		list = e.HTTPS
	}
	out := make([]string, 0, len(list))
	for _, h := range list {
		out = append(out, withScheme(useHTTPS, h))
	}
	return out
}

func withScheme(useHTTPS bool, host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	if useHTTPS {
		return "https://" + host
	}
	return "http://" + host
}

// Region is one named cluster with ordered endpoint lists per service.
// Upload drivers only consume Up; the others exist so the Domains
// Manager can pre-resolve the whole region, and so non-upload
// operations built on top of this package (outside this module's
// scope) have somewhere to read endpoints from.
type Region struct {
	Name string
	Up   Endpoints
	IO   Endpoints
	RS   Endpoints
	RSF  Endpoints
	API  Endpoints
}

// Zone is one region's ordered candidate host list for a single
// service, the unit upload drivers retry across before giving up.
type Zone []string

// UpZones is the ordered list-of-lists §3 describes: one Zone per
// Region, in the order the regions should be tried.
type UpZones []Zone

// UpZonesFor builds the up_urls_list for a sequence of regions, in
// order, preferring HTTPS endpoints when useHTTPS is set.
func UpZonesFor(useHTTPS bool, regions ...Region) UpZones {
	zones := make(UpZones, 0, len(regions))
	for _, r := range regions {
		hosts := r.Up.Hosts(useHTTPS)
		if len(hosts) > 0 {
			zones = append(zones, Zone(hosts))
		}
	}
	return zones
}

// Lists exposes the zones as a plain [][]string, the shape the
// Domains Manager and pipeline consume.
func (z UpZones) Lists() [][]string {
	out := make([][]string, len(z))
	for i, zone := range z {
		out[i] = []string(zone)
	}
	return out
}

// East China, North China, South China, North America, and Singapore
// are the long-standing public Kodo regions; callers targeting other
// deployments build their own Region values the same way.
var (
	EastChina = Region{
		Name: "z0",
		Up: Endpoints{
			HTTP:  []string{"up.qiniup.com", "upload.qiniup.com"},
			HTTPS: []string{"up.qbox.me", "upload.qbox.me"},
		},
		IO:  Endpoints{HTTP: []string{"iovip.qbox.me"}, HTTPS: []string{"iovip.qbox.me"}},
		RS:  Endpoints{HTTP: []string{"rs.qiniu.com"}, HTTPS: []string{"rs.qbox.me"}},
		RSF: Endpoints{HTTP: []string{"rsf.qiniu.com"}, HTTPS: []string{"rsf.qbox.me"}},
		API: Endpoints{HTTP: []string{"api.qiniu.com"}, HTTPS: []string{"api.qbox.me"}},
	}
	NorthChina = Region{
		Name: "z1",
		Up: Endpoints{
			HTTP:  []string{"up-z1.qiniup.com", "upload-z1.qiniup.com"},
			HTTPS: []string{"up-z1.qbox.me", "upload-z1.qbox.me"},
		},
		IO:  Endpoints{HTTP: []string{"iovip-z1.qbox.me"}, HTTPS: []string{"iovip-z1.qbox.me"}},
		RS:  Endpoints{HTTP: []string{"rs-z1.qiniu.com"}, HTTPS: []string{"rs-z1.qbox.me"}},
		RSF: Endpoints{HTTP: []string{"rsf-z1.qiniu.com"}, HTTPS: []string{"rsf-z1.qbox.me"}},
		API: Endpoints{HTTP: []string{"api-z1.qiniu.com"}, HTTPS: []string{"api-z1.qbox.me"}},
	}
	SouthChina = Region{
		Name: "z2",
		Up: Endpoints{
			HTTP:  []string{"up-z2.qiniup.com", "upload-z2.qiniup.com"},
			HTTPS: []string{"up-z2.qbox.me", "upload-z2.qbox.me"},
		},
		IO:  Endpoints{HTTP: []string{"iovip-z2.qbox.me"}, HTTPS: []string{"iovip-z2.qbox.me"}},
		RS:  Endpoints{HTTP: []string{"rs-z2.qiniu.com"}, HTTPS: []string{"rs-z2.qbox.me"}},
		RSF: Endpoints{HTTP: []string{"rsf-z2.qiniu.com"}, HTTPS: []string{"rsf-z2.qbox.me"}},
		API: Endpoints{HTTP: []string{"api-z2.qiniu.com"}, HTTPS: []string{"api-z2.qbox.me"}},
	}
	NorthAmerica = Region{
		Name: "na0",
		Up: Endpoints{
			HTTP:  []string{"up-na0.qiniup.com"},
			HTTPS: []string{"up-na0.qbox.me"},
		},
		IO:  Endpoints{HTTP: []string{"iovip-na0.qbox.me"}, HTTPS: []string{"iovip-na0.qbox.me"}},
		RS:  Endpoints{HTTP: []string{"rs-na0.qiniu.com"}, HTTPS: []string{"rs-na0.qbox.me"}},
		RSF: Endpoints{HTTP: []string{"rsf-na0.qiniu.com"}, HTTPS: []string{"rsf-na0.qbox.me"}},
		API: Endpoints{HTTP: []string{"api-na0.qiniu.com"}, HTTPS: []string{"api-na0.qbox.me"}},
	}
	Singapore = Region{
		Name: "as0",
		Up: Endpoints{
			HTTP:  []string{"up-as0.qiniup.com"},
			HTTPS: []string{"up-as0.qbox.me"},
		},
		IO:  Endpoints{HTTP: []string{"iovip-as0.qbox.me"}, HTTPS: []string{"iovip-as0.qbox.me"}},
		RS:  Endpoints{HTTP: []string{"rs-as0.qiniu.com"}, HTTPS: []string{"rs-as0.qbox.me"}},
		RSF: Endpoints{HTTP: []string{"rsf-as0.qiniu.com"}, HTTPS: []string{"rsf-as0.qbox.me"}},
		API: Endpoints{HTTP: []string{"api-as0.qiniu.com"}, HTTPS: []string{"api-as0.qbox.me"}},
	}
)

// All returns the built-in regions in a stable order, used as the
// Domains Manager's default pre-resolve set.
func All() []Region {
	return []Region{EastChina, NorthChina, SouthChina, NorthAmerica, Singapore}
}
