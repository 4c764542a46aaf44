package portal

import (
	"fmt"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/energycommunity/pkg/common"
	"github.com/raterudder/energycommunity/pkg/types"
)

// Configured registers the portal flags and returns a client that is set up
// once lflag.Configure has been called.
func Configured() *Client {
	c := NewClient(DefaultBaseURL, types.Credentials{}, nil)

	baseURL := lflag.String("portal-url", DefaultBaseURL, "Base URL of the energy community portal")
	username := lflag.RequiredString("portal-username", "Email address used to log in to the portal")
	password := lflag.RequiredString("portal-password", "Password used to log in to the portal")
	timeout := lflag.Duration("portal-timeout", 30*time.Second, "Timeout for a single request to the portal")

	lflag.Do(func() {
		if _, err := url.Parse(*baseURL); err != nil {
			panic(fmt.Sprintf("failed to parse portal-url (%s): %v", *baseURL, err))
		}
		c.baseURL = trimBaseURL(*baseURL)
		c.creds = types.Credentials{Username: *username, Password: *password}
		c.client = common.HTTPClient(*timeout)
	})

	return c
}
