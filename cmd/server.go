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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/ipnet-mesh/meshweb/apis"
	"github.com/ipnet-mesh/meshweb/common"
	"github.com/ipnet-mesh/meshweb/core"
	"github.com/ipnet-mesh/meshweb/nodes"
	"github.com/ipnet-mesh/meshweb/relay"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// relayTaskBuffer depth of the bridge relay task queue
const relayTaskBuffer = 64

// brokerReconnectInterval how often the supervisor retries a downed broker link
const brokerReconnectInterval = time.Second * 15

// RunWebsiteServer run the website server
func RunWebsiteServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "website",
		"instance":  instance,
	}

	// -------------------------------------------------------------------
	// Node inventory data path

	source, err := nodes.GetUpstreamNodeSource(config.Upstream)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define upstream node source")
		return err
	}

	snapshots, err := nodes.GetFileSnapshotStore(config.NodeCache.SnapshotFile)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define snapshot store")
		return err
	}

	cache, err := nodes.GetTieredNodeCache(source, snapshots, config.NodeCache)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define node cache")
		return err
	}

	// -------------------------------------------------------------------
	// Broker link and push-channel fan-out

	broker, err := core.GetMQTTBrokerClient(config.MQTT)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broker client")
		return err
	}

	registry, err := relay.GetSessionRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session registry")
		return err
	}

	bridge, err := relay.GetBridgeRelay(broker, registry, relayTaskBuffer)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define bridge relay")
		return err
	}
	broker.SetEventHandlers(bridge.HandleBrokerStatus, bridge.HandleBrokerMessage)

	if err := bridge.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start bridge relay")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	if config.MQTT.BrokerHost == "" {
		log.WithFields(logTags).Warn("No broker host configured, broker link disabled")
	} else {
		if !broker.Connect() {
			log.WithFields(logTags).Error("Initial broker connection attempt not started")
		}
		// The broker link does not retry on its own. Keep poking it while it
		// is down.
		reconnect, err := common.GetIntervalTimerInstance(
			"broker-reconnect", localCtxt, wg,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define reconnect timer")
			return err
		}
		if err := reconnect.Start(brokerReconnectInterval, func() error {
			switch broker.State() {
			case core.ConnStateDisconnected, core.ConnStateFailed:
				log.WithFields(logTags).Info("Retrying broker connection")
				broker.Connect()
			}
			return nil
		}, false); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start reconnect timer")
			return err
		}
	}

	// -------------------------------------------------------------------
	// REST handlers

	httpSetting := &config.Website.HTTPSetting
	nodeHandler, err := apis.GetAPIRestNodeHandler(cache, config.Website.NodeDomain, httpSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define node HTTP handler")
		return err
	}
	pushHandler, err := apis.GetAPIRestPushHandler(bridge, registry, httpSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define push HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(
		router, config.Website.Endpoints.PathPrefix, nil,
	)

	// Node inventory
	nodeAPIRouter := apis.RegisterPathPrefix(mainRouter, "/v1/node", map[string]http.HandlerFunc{
		"get": nodeHandler.GetAllNodesHandler(),
	})
	_ = apis.RegisterPathPrefix(nodeAPIRouter, "/stats", map[string]http.HandlerFunc{
		"get": nodeHandler.GetNodeStatsHandler(),
	})
	_ = apis.RegisterPathPrefix(nodeAPIRouter, "/{area}/{nodeID}", map[string]http.HandlerFunc{
		"get": nodeHandler.GetNodeHandler(),
	})

	// Push channel
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/push", map[string]http.HandlerFunc{
		"get": pushHandler.PushChannelHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": nodeHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": nodeHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(nodeHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", httpSetting.Server.ListenOn, httpSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(httpSetting.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(httpSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(httpSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	// Stop the broker link and the relay loop
	broker.Disconnect()
	if err := bridge.StopEventLoop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during relay shutdown")
	}

	return nil
}
