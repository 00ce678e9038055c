/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package web_ui

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/param"
)

const shutdownTimeout = 10 * time.Second

func ConfigureMetrics(engine *gin.Engine, cfg *param.Config) {
	if cfg.Monitoring.EnablePrometheus {
		prometheusMonitor := ginprometheus.NewPrometheus("gin")
		prometheusMonitor.Use(engine)
	}

	engine.GET("/api/v1.0/health", func(ctx *gin.Context) {
		healthStatus := metrics.GetHealthStatus()
		ctx.JSON(http.StatusOK, healthStatus)
	})
}

func GetEngine(cfg *param.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "invalid Server.TrustedProxies")
	}
	webLogger := log.WithFields(log.Fields{"daemon": "gin"})
	engine.Use(func(ctx *gin.Context) {
		startTime := time.Now()

		ctx.Next()

		latency := time.Since(startTime)
		webLogger.WithFields(log.Fields{"method": ctx.Request.Method,
			"status":   ctx.Writer.Status(),
			"time":     latency.String(),
			"client":   ctx.RemoteIP(),
			"resource": ctx.Request.URL.Path},
		).Info("Served Request")
	})
	ConfigureMetrics(engine, cfg)
	if cfg.Debug {
		configurePprof(engine, cfg.Server.IdentityHeader)
	}
	return engine, nil
}

// RunEngineWithListener serves the engine on ln until ctx is done.  TLS is
// terminated by the fronting proxy that also sets the identity header.
func RunEngineWithListener(ctx context.Context, ln net.Listener, engine *gin.Engine, readHeaderTimeout time.Duration, egrp *errgroup.Group) error {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	server := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	drained := make(chan struct{})
	egrp.Go(func() error {
		defer close(drained)
		<-ctx.Done()
		log.Info("Shutting down the web engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warningln("Web engine shutdown error:", err)
		}
		return nil
	})

	metrics.SetComponentHealthStatus(metrics.Server_WebUI, metrics.StatusOK, "")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.SetComponentHealthStatus(metrics.Server_WebUI, metrics.StatusCritical, err.Error())
		return err
	}
	// Serve returns as soon as Shutdown starts; wait for in-flight requests.
	<-drained
	return nil
}
