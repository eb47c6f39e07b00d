package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieOptions are the attributes of the auto-login cookie.
type CookieOptions struct {
	Path   string
	Domain string
	Secure bool

	// Codec signs the cookie value when non-nil.
	Codec securecookie.Codec
}

// NewCodec returns a securecookie codec signing (not encrypting) values
// with key, or nil when key is empty.
func NewCodec(key string) securecookie.Codec {
	if key == "" {
		return nil
	}
	sc := securecookie.New([]byte(key), nil)
	sc.SetSerializer(securecookie.NopEncoder{})
	return sc
}

// Cookies implements auth.CookieJar over one request and its response.
// Reads see cookies set or deleted earlier in the same request.
type Cookies struct {
	r       *http.Request
	w       http.ResponseWriter
	opts    CookieOptions
	pending map[string]*string
}

// NewCookies creates a cookie jar for r and w.
func NewCookies(w http.ResponseWriter, r *http.Request, opts CookieOptions) *Cookies {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &Cookies{r: r, w: w, opts: opts, pending: map[string]*string{}}
}

// Get returns the cookie's value. A cookie that fails signature
// verification is treated as absent.
func (c *Cookies) Get(name string) (string, bool) {
	if v, ok := c.pending[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}

	ck, err := c.r.Cookie(name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	if c.opts.Codec == nil {
		return ck.Value, true
	}
	var value []byte
	if err := c.opts.Codec.Decode(name, ck.Value, &value); err != nil {
		return "", false
	}
	return string(value), true
}

// Set writes the cookie with a lifetime of ttl.
func (c *Cookies) Set(name, value string, ttl time.Duration) error {
	encoded := value
	if c.opts.Codec != nil {
		var err error
		encoded, err = c.opts.Codec.Encode(name, []byte(value))
		if err != nil {
			return fmt.Errorf("signing cookie %s: %w", name, err)
		}
	}

	ck := c.cookie(name, encoded)
	ck.MaxAge = int(ttl / time.Second)
	ck.Expires = time.Now().Add(ttl).UTC()
	http.SetCookie(c.w, ck)

	c.pending[name] = &value
	return nil
}

// Delete expires the cookie.
func (c *Cookies) Delete(name string) error {
	ck := c.cookie(name, "")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(c.w, ck)

	c.pending[name] = nil
	return nil
}

func (c *Cookies) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.opts.Path,
		Domain:   c.opts.Domain,
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
