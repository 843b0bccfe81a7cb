// Copyright 2025-2026 The meshweb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"fmt"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/ipnet-mesh/meshweb/common"
	"github.com/ipnet-mesh/meshweb/nodes"
)

// APIRestNodeHandler REST handler for the node inventory
type APIRestNodeHandler struct {
	APIRestHandler
	cache      nodes.NodeCache
	nodeDomain string
	validate   *validator.Validate
}

// GetAPIRestNodeHandler define APIRestNodeHandler
func GetAPIRestNodeHandler(
	cache nodes.NodeCache, nodeDomain string, httpConfig *common.HTTPConfig,
) (APIRestNodeHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "node-inventory",
	}
	return APIRestNodeHandler{
		APIRestHandler: APIRestHandler{
			RestAPIHandler: goutils.RestAPIHandler{
				Component: goutils.Component{
					LogTags: logTags,
					LogTagModifiers: []goutils.LogMetadataModifier{
						goutils.ModifyLogMetadataByRestRequestParam,
					},
				},
				CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
				DoNotLogHeaders: func() map[string]bool {
					result := map[string]bool{}
					for _, v := range httpConfig.Logging.DoNotLogHeaders {
						result[v] = true
					}
					return result
				}(),
			},
		}, cache: cache, nodeDomain: nodeDomain, validate: validator.New(),
	}, nil
}

// -----------------------------------------------------------------------

// APIRestRespNodeList response for listing all publicly visible nodes
type APIRestRespNodeList struct {
	goutils.RestAPIBaseResponse
	// Nodes the publicly visible node records
	Nodes []nodes.NodeRecord `json:"nodes"`
}

// GetAllNodes godoc
// @Summary Query for all publicly visible nodes
// @Description Query for the current publicly visible node inventory
// @tags Nodes
// @Produce json
// @Param Meshweb-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespNodeList "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Meshweb-Request-ID "Request ID to match against logs"
// @Router /v1/node [get]
func (h APIRestNodeHandler) GetAllNodes(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	records := nodes.PublicOnly(h.cache.GetNodes(r.Context()))
	resp := APIRestRespNodeList{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Nodes: records,
	}

	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetAllNodesHandler Wrapper around GetAllNodes
func (h APIRestNodeHandler) GetAllNodesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetAllNodes(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespNodeStats response for the aggregate node statistics
type APIRestRespNodeStats struct {
	goutils.RestAPIBaseResponse
	// Stats the aggregate node figures
	Stats nodes.NodeStats `json:"stats"`
	// CoverageAreaKM2 the approximate network coverage area in km²
	CoverageAreaKM2 int `json:"coverageAreaKm2"`
}

// GetNodeStats godoc
// @Summary Query for aggregate node statistics
// @Description Query for aggregate figures over the publicly visible node inventory
// @tags Nodes
// @Produce json
// @Param Meshweb-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespNodeStats "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Meshweb-Request-ID "Request ID to match against logs"
// @Router /v1/node/stats [get]
func (h APIRestNodeHandler) GetNodeStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	records := nodes.PublicOnly(h.cache.GetNodes(r.Context()))
	resp := APIRestRespNodeStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Stats:           nodes.CalculateNodeStats(records),
		CoverageAreaKM2: nodes.CoverageArea(records),
	}

	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetNodeStatsHandler Wrapper around GetNodeStats
func (h APIRestNodeHandler) GetNodeStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetNodeStats(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespOneNode response for querying one node
type APIRestRespOneNode struct {
	goutils.RestAPIBaseResponse
	// Node the details for this node
	Node nodes.NodeRecord `json:"node"`
}

// GetNode godoc
// @Summary Query for info on one node
// @Description Query for the details of one node by area and short node ID
// @tags Nodes
// @Produce json
// @Param Meshweb-Request-ID header string false "User provided request ID to match against logs"
// @Param area path string true "Area the node belongs to"
// @Param nodeID path string true "Short node ID within the area"
// @Success 200 {object} APIRestRespOneNode "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,404,500 {string} Meshweb-Request-ID "Request ID to match against logs"
// @Router /v1/node/{area}/{nodeID} [get]
func (h APIRestNodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	area, ok := vars["area"]
	if !ok {
		msg := "No area provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	nodeID, ok := vars["nodeID"]
	if !ok {
		msg := "No node ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	// Lookup sees only the publicly listed inventory, so an unlisted node is
	// not retrievable by guessing its URL
	record := nodes.FindNode(
		nodes.PublicOnly(h.cache.GetNodes(r.Context())), area, nodeID, h.nodeDomain,
	)
	if record == nil {
		msg := fmt.Sprintf("Node %s.%s not found", nodeID, area)
		log.WithFields(localLogTags).Info(msg)
		respCode = http.StatusNotFound
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusNotFound, msg, msg)
		return
	}
	resp := APIRestRespOneNode{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Node: *record,
	}

	respCode = http.StatusOK
	respBody = resp
}

// GetNodeHandler Wrapper around GetNode
func (h APIRestNodeHandler) GetNodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetNode(w, r)
	}
}

// -----------------------------------------------------------------------
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For website REST API liveness check
// @Description Will return success to indicate website REST API module is live
// @tags Nodes
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestNodeHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestNodeHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For website REST API readiness check
// @Description Will return success if website REST API module is ready for use
// @tags Nodes
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestNodeHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.cache == nil {
		msg := "not ready"
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestNodeHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
