package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aatchison/mycroft-core/identity"
)

const devicePath = "device"

// Versions is reported to the backend when a device is activated.
type Versions struct {
	Core      string
	Enclosure string
}

type DeviceAPI struct {
	client   *Client
	versions Versions
}

func NewDeviceAPI(client *Client, versions Versions) (*DeviceAPI, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}

	return &DeviceAPI{client: client, versions: versions}, nil
}

// GetCode asks the backend for the pairing code the user reads out on the web.
func (d *DeviceAPI) GetCode(ctx context.Context, state string) (any, error) {
	return d.client.Request(ctx, &Request{
		Path:  devicePath + "/code",
		Query: url.Values{"state": []string{state}},
	})
}

// Activate completes pairing. The identity it returns has already replaced the
// stored one.
func (d *DeviceAPI) Activate(ctx context.Context, state, token string) (identity.Identity, error) {
	var login identity.Login

	err := d.client.RequestInto(ctx, &Request{
		Method: http.MethodPost,
		Path:   devicePath + "/activate",
		JSON: map[string]any{
			"state":            state,
			"token":            token,
			"coreVersion":      d.versions.Core,
			"enclosureVersion": d.versions.Enclosure,
		},
	}, &login)
	if err != nil {
		return identity.Identity{}, err
	}

	if login.AccessToken == "" {
		return identity.Identity{}, fmt.Errorf("activation returned no access token")
	}

	paired := login.Identity(d.client.now())

	err = d.client.identity.Replace(ctx, paired)
	if err != nil {
		return identity.Identity{}, err
	}

	return d.client.identity.Current(), nil
}

func (d *DeviceAPI) Find(ctx context.Context) (any, error) {
	return d.client.Request(ctx, &Request{Path: d.uuidPath("")})
}

func (d *DeviceAPI) FindSetting(ctx context.Context) (any, error) {
	return d.client.Request(ctx, &Request{Path: d.uuidPath("/setting")})
}

func (d *DeviceAPI) FindLocation(ctx context.Context) (any, error) {
	return d.client.Request(ctx, &Request{Path: d.uuidPath("/location")})
}

func (d *DeviceAPI) uuidPath(suffix string) string {
	return devicePath + "/" + url.PathEscape(d.client.identity.Current().UUID) + suffix
}
