package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// SourceAccessLog is the raw-line source label for nginx access logs.
const SourceAccessLog = "nginx_access.log"

// Combined-ish format example:
//
//	203.0.113.50 - - [19/Feb/2026:23:40:01 -0800] "GET /wp-login.php HTTP/1.1" 404 153 "-" "Mozilla/5.0 ..."
var accessRe = regexp.MustCompile(
	`^(?P<ip>\S+)\s+\S+\s+\S+\s+\[(?P<ts>[^\]]+)\]\s+` +
		`"(?P<method>\S+)\s+(?P<path>\S+)\s+(?P<proto>[^"]+)"\s+` +
		`(?P<status>\d{3})\s+(?P<size>\S+)\s+` +
		`"(?P<ref>[^"]*)"\s+"(?P<ua>[^"]*)"`)

const accessTimeLayout = "02/Jan/2006:15:04:05 -0700"

// AccessParser recognizes combined-format web access lines. Outcome is
// always success; the HTTP status is carried both structurally and in
// the message text.
type AccessParser struct{}

// NewAccessParser creates a web-access-log parser.
func NewAccessParser() *AccessParser { return &AccessParser{} }

func (p *AccessParser) Source() string { return SourceAccessLog }

func (p *AccessParser) Parse(line string) (*soc.Event, bool) {
	m := match(accessRe, line)
	if m == nil {
		return nil, false
	}

	ts, err := time.Parse(accessTimeLayout, m["ts"])
	if err != nil {
		return nil, false
	}

	status, err := strconv.Atoi(m["status"])
	if err != nil {
		return nil, false
	}

	return &soc.Event{
		Time:       ts.In(time.Local),
		Type:       soc.EventHTTPAccess,
		Product:    "nginx",
		Host:       "web",
		SrcIP:      m["ip"],
		HTTPStatus: status,
		Outcome:    soc.OutcomeSuccess,
		Message:    fmt.Sprintf("Nginx %s %s -> %d UA=%s", m["method"], m["path"], status, m["ua"]),
	}, true
}
