package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/ipnet-mesh/meshweb/common"
)

// NodeSource fetches the node inventory from the upstream API
type NodeSource interface {
	// FetchNodes fetch and transform the current inventory. A nil error with
	// an empty slice is a successful fetch that yielded no usable records.
	FetchNodes(ctxt context.Context) ([]NodeRecord, error)
}

// upstreamNodeSourceImpl implements NodeSource against the inventory HTTP API
type upstreamNodeSourceImpl struct {
	common.Component
	config common.UpstreamAPIConfig
	client *http.Client
}

// GetUpstreamNodeSource define a new upstream inventory client
func GetUpstreamNodeSource(config common.UpstreamAPIConfig) (NodeSource, error) {
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "nodes",
		"component": "upstream-source",
		"instance":  config.BaseURL,
	}
	return &upstreamNodeSourceImpl{
		Component: common.Component{LogTags: logTags},
		config:    config,
		client: &http.Client{
			Timeout: time.Second * time.Duration(config.RequestTimeout),
		},
	}, nil
}

// bodyPrefix clip a response body for log output
func bodyPrefix(body []byte, max int) string {
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// FetchNodes fetch and transform the current inventory
func (s *upstreamNodeSourceImpl) FetchNodes(ctxt context.Context) ([]NodeRecord, error) {
	if s.config.BaseURL == "" {
		return nil, fmt.Errorf("upstream API URL not configured")
	}

	url := fmt.Sprintf(
		"%s/api/v1/nodes?limit=%d&offset=0&sort_by=%s&order=%s",
		s.config.BaseURL, s.config.PageLimit, s.config.SortBy, s.config.SortOrder,
	)
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to form inventory request")
		return nil, err
	}
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))
	}

	log.WithFields(s.LogTags).Debugf("Fetching nodes from %s", url)
	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Inventory fetch failed")
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to read inventory response")
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("upstream returned status %d", resp.StatusCode)
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Inventory fetch failed: %s", bodyPrefix(body, 200),
		)
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		err := fmt.Errorf("upstream returned empty response")
		log.WithError(err).WithFields(s.LogTags).Error("Inventory fetch failed")
		return nil, err
	}

	var payload upstreamNodeList
	if err := json.Unmarshal(body, &payload); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Malformed inventory response: %s", bodyPrefix(body, 500),
		)
		return nil, err
	}
	if payload.Error != "" {
		err := fmt.Errorf("upstream error: %s", payload.Error)
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Inventory fetch failed: %s", payload.Detail,
		)
		return nil, err
	}

	records := make([]NodeRecord, 0, len(payload.Nodes))
	for _, apiNode := range payload.Nodes {
		if record := transformUpstreamNode(apiNode); record != nil {
			records = append(records, *record)
		}
	}
	log.WithFields(s.LogTags).Infof(
		"Fetched %d nodes (total in response: %d)", len(records), len(payload.Nodes),
	)
	return records, nil
}
