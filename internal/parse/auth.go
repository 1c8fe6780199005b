package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/casefile/internal/soc"
)

// SourceAuthLog is the raw-line source label for sshd auth logs.
const SourceAuthLog = "auth.log"

// Examples:
//
//	Feb 19 23:50:01 ubuntu sshd[1201]: Failed password for invalid user admin from 203.0.113.10 port 53321 ssh2
//	Feb 19 23:52:00 ubuntu sshd[1210]: Accepted publickey for willy from 10.0.0.5 port 52111 ssh2
var (
	failedRe = regexp.MustCompile(
		`^(?P<mon>\w+)\s+(?P<day>\d+)\s+(?P<time>\d+:\d+:\d+)\s+(?P<host>\S+)\s+sshd\[\d+\]:\s+` +
			`Failed password for (?:invalid user )?(?P<user>\S+)\s+from\s+(?P<ip>\S+)\s+port\s+(?P<port>\d+)`)

	acceptedRe = regexp.MustCompile(
		`^(?P<mon>\w+)\s+(?P<day>\d+)\s+(?P<time>\d+:\d+:\d+)\s+(?P<host>\S+)\s+sshd\[\d+\]:\s+` +
			`Accepted\s+(?P<method>\S+)\s+for\s+(?P<user>\S+)\s+from\s+(?P<ip>\S+)\s+port\s+(?P<port>\d+)`)
)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March, "Apr": time.April,
	"May": time.May, "Jun": time.June, "Jul": time.July, "Aug": time.August,
	"Sep": time.September, "Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// AuthParser recognizes sshd failed-password and accepted-login lines.
//
// The syslog format carries no year, so the reference year is an explicit
// input; historical re-parsing stays correct by supplying the right one.
type AuthParser struct {
	year int
}

// NewAuthParser creates an auth-log parser. year <= 0 means the current
// year.
func NewAuthParser(year int) *AuthParser {
	if year <= 0 {
		year = time.Now().Year()
	}
	return &AuthParser{year: year}
}

func (p *AuthParser) Source() string { return SourceAuthLog }

func (p *AuthParser) Parse(line string) (*soc.Event, bool) {
	if m := match(failedRe, line); m != nil {
		t, ok := p.syslogTime(m["mon"], m["day"], m["time"])
		if !ok {
			return nil, false
		}
		return &soc.Event{
			Time:     t,
			Type:     soc.EventSSHAuth,
			Product:  "linux",
			Host:     m["host"],
			SrcIP:    m["ip"],
			Username: m["user"],
			Outcome:  soc.OutcomeFail,
			Message:  fmt.Sprintf("SSH failed password for %s from %s", m["user"], m["ip"]),
		}, true
	}

	if m := match(acceptedRe, line); m != nil {
		t, ok := p.syslogTime(m["mon"], m["day"], m["time"])
		if !ok {
			return nil, false
		}
		return &soc.Event{
			Time:     t,
			Type:     soc.EventSSHAuth,
			Product:  "linux",
			Host:     m["host"],
			SrcIP:    m["ip"],
			Username: m["user"],
			Outcome:  soc.OutcomeSuccess,
			Message:  fmt.Sprintf("SSH accepted %s for %s from %s", m["method"], m["user"], m["ip"]),
		}, true
	}

	return nil, false
}

func (p *AuthParser) syslogTime(mon, day, clock string) (time.Time, bool) {
	month, ok := months[mon]
	if !ok {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	return time.Date(p.year, month, d, h, m, sec, 0, time.Local), true
}

// match returns named submatches, or nil when the line does not match.
func match(re *regexp.Regexp, line string) map[string]string {
	sub := re.FindStringSubmatch(line)
	if sub == nil {
		return nil
	}
	out := make(map[string]string, len(sub))
	for _, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		out[name] = sub[re.SubexpIndex(name)]
	}
	return out
}
