// Package inventory queries the network source of truth for device lists
// over its GraphQL API.
package inventory

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

// Client fetches devices from the inventory GraphQL endpoint.
type Client struct {
	url    string
	token  string
	client *http.Client
	logger zerolog.Logger
}

// NewClient creates an inventory client. The URL is normalized to end in
// /graphql/.
func NewClient(url, token string, logger zerolog.Logger) *Client {
	if url != "" && !strings.HasSuffix(url, "/graphql/") {
		url = strings.TrimRight(url, "/") + "/graphql/"
	}
	return &Client{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger,
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		DeviceList []deviceNode `json:"device_list"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type deviceNode struct {
	Name           string `json:"name"`
	VirtualChassis *struct {
		Name string `json:"name"`
	} `json:"virtual_chassis"`
	Platform *struct {
		Slug string `json:"slug"`
	} `json:"platform"`
	PrimaryIP4 *struct {
		Address string `json:"address"`
	} `json:"primary_ip4"`
	Site *struct {
		Name   string `json:"name"`
		Region *struct {
			Name string `json:"name"`
		} `json:"region"`
	} `json:"site"`
	DeviceType *struct {
		PartNumber string `json:"part_number"`
	} `json:"device_type"`
}

// FetchDevices returns the active devices matching the optional site, region
// and model filters. Devices without a resolvable primary IP are skipped; a
// virtual-chassis name is preferred over the unit name.
func (c *Client) FetchDevices(ctx context.Context, site, region, model string) ([]models.Device, error) {
	if c.url == "" || c.token == "" {
		return nil, fmt.Errorf("inventory URL and token must be configured")
	}

	var filters []string
	if model != "" {
		filters = append(filters, fmt.Sprintf(`device_type: {model: {i_contains: %q}}`, model))
	}
	if site != "" {
		filters = append(filters, fmt.Sprintf(`site: {name: {i_exact: %q}}`, site))
	}
	if region != "" {
		filters = append(filters, fmt.Sprintf(`region: {name: {i_exact: %q}}`, region))
	}
	filters = append(filters,
		`primary_ip4: {status: STATUS_ACTIVE}`,
		`status: STATUS_ACTIVE`,
	)

	query := fmt.Sprintf(`query DeviceList {
  device_list(filters: {%s}) {
    name
    virtual_chassis { name }
    platform { slug }
    primary_ip4 { address }
    site { name region { name } }
    device_type { part_number }
  }
}`, strings.Join(filters, ", "))

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: map[string]any{}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inventory query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build inventory request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory returned status %d", resp.StatusCode)
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode inventory response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("inventory query error: %s", parsed.Errors[0].Message)
	}

	return c.mapDevices(parsed.Data.DeviceList), nil
}

func (c *Client) mapDevices(nodes []deviceNode) []models.Device {
	devices := make([]models.Device, 0, len(nodes))

	for _, node := range nodes {
		if node.Name == "" {
			c.logger.Warn().Msg("Inventory device missing name, skipping")
			continue
		}

		name := node.Name
		if node.VirtualChassis != nil && node.VirtualChassis.Name != "" {
			name = node.VirtualChassis.Name
		}

		ip := ""
		if node.PrimaryIP4 != nil && node.PrimaryIP4.Address != "" {
			// strip the CIDR mask
			ip = strings.SplitN(node.PrimaryIP4.Address, "/", 2)[0]
		}
		if ip == "" {
			c.logger.Warn().Str("device", name).Msg("Inventory device has no primary IP, skipping")
			continue
		}

		device := models.Device{DeviceName: name, IPAddress: ip, Platform: "ios"}
		if node.Platform != nil && node.Platform.Slug != "" {
			device.Platform = node.Platform.Slug
		}
		if node.Site != nil {
			device.Site = node.Site.Name
			if node.Site.Region != nil {
				device.Region = node.Site.Region.Name
			}
		}
		if node.DeviceType != nil {
			device.Model = node.DeviceType.PartNumber
		}

		devices = append(devices, device)
	}
	return devices
}
