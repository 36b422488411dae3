package distant

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the URI scheme of server credentials.
const Scheme = "distant"

// Credentials identify a server and the key needed to authenticate against
// it, in the single-line form distant://KEY@HOST:PORT.
type Credentials struct {
	Host string
	Port uint16
	Key  string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s://%s@%s", Scheme, c.Key, net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))))
}

// Addr is the dialable host:port of the server.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// ParseCredentials parses the strict form: the scheme, key, host, and port
// are all required.
func ParseCredentials(s string) (Credentials, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Credentials{}, fmt.Errorf("bad credentials: %w", err)
	}
	if u.Scheme != Scheme {
		return Credentials{}, fmt.Errorf("bad credentials: scheme %q is not %q", u.Scheme, Scheme)
	}
	if u.User == nil || u.User.Username() == "" {
		return Credentials{}, fmt.Errorf("bad credentials: missing key")
	}
	host := u.Hostname()
	if host == "" {
		return Credentials{}, fmt.Errorf("bad credentials: missing host")
	}
	portStr := u.Port()
	if portStr == "" {
		return Credentials{}, fmt.Errorf("bad credentials: missing port")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Credentials{}, fmt.Errorf("bad credentials: bad port %q", portStr)
	}
	return Credentials{Host: host, Port: uint16(port), Key: u.User.Username()}, nil
}

// ParseCredentialsLax accepts the strict form plus destinations with the
// scheme or key omitted, such as "example.com:8080".
func ParseCredentialsLax(s string) (Credentials, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if creds, err := ParseCredentials(s); err == nil {
			return creds, nil
		}
		// Fall through so scheme-bearing inputs missing a key still parse.
		s = s[strings.Index(s, "://")+3:]
	}

	key := ""
	if at := strings.LastIndex(s, "@"); at >= 0 {
		key = s[:at]
		s = s[at+1:]
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Credentials{}, fmt.Errorf("bad destination %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Credentials{}, fmt.Errorf("bad destination: bad port %q", portStr)
	}
	return Credentials{Host: host, Port: uint16(port), Key: key}, nil
}
