package plugin

import (
	"errors"
	"strconv"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/helper"
	"github.com/denisvmedia/relaymitm/layer"
)

// HostFilter rejects requests to hosts that don't match an allow-list
// (or that do match a deny-list), using glob patterns the way the
// teacher's --ignore-hosts/--allow-hosts CLI flags do. If both Allow and
// Deny are set, a request must match Allow and must not match Deny.
type HostFilter struct {
	Allow []string
	Deny  []string
}

func (*HostFilter) Name() string { return "host_filter" }

func (f *HostFilter) Request(lc *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
	addr := lc.Host
	if lc.Port != 0 {
		addr = lc.Host + ":" + strconv.Itoa(lc.Port)
	}

	if len(f.Allow) > 0 && !helper.MatchHost(addr, f.Allow) {
		return nil, errors.New("host_filter: host not in allow list")
	}
	if len(f.Deny) > 0 && helper.MatchHost(addr, f.Deny) {
		return nil, errors.New("host_filter: host in deny list")
	}
	return nil, nil
}

func (*HostFilter) Response(_ *layer.Context, _ *httpmsg.Request, _ *httpmsg.Response) (*httpmsg.Response, error) {
	return nil, nil
}
