package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	"net/http"
	"s7panel/cmd/s7panel/config"
	"s7panel/cmd/s7panel/options"
	"s7panel/pkg/generic"
	"s7panel/pkg/panel"
)

type Server struct {
	*generic.Server
	*config.Config
}

func NewServer(router *gin.Engine, o *options.Options, config *config.Config) (*Server, error) {
	allowMethods := []string{http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodPut}

	s := &generic.Server{
		Router:  router,
		Port:    o.Port,
		Methods: allowMethods,
	}

	server := &Server{
		Server: s,
		Config: config,
	}

	server.InstallHandlers()

	return server, nil
}

func (s *Server) InstallHandlers() {
	s.Router.Use(generic.AllowMethods(s.Methods...))
	s.Router.GET("/metrics", gin.WrapH(s.Config.Metrics.Handler()))
	s.Router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	v1 := s.Router.Group("/api/v1")
	panel.InstallHandler(v1, s.Config.PanelMgr)
}

func (s *Server) Serve() (func(ctx context.Context), error) {
	var srv *http.Server
	if len(s.Config.CertFile) != 0 && len(s.Config.KeyFile) != 0 {
		x509KeyPair, err := tls.LoadX509KeyPair(s.Config.CertFile, s.Config.KeyFile)
		if err != nil {
			return nil, err
		}
		c := &tls.Config{
			Certificates: []tls.Certificate{x509KeyPair},
		}

		srv = &http.Server{
			Addr:      fmt.Sprintf(":%s", s.Port),
			Handler:   s.Router,
			TLSConfig: c,
		}
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve https", "port", s.Port)
			}
		}()
	} else {
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%s", s.Port),
			Handler: s.Router,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve http", "port", s.Port)
			}
		}()
	}

	return func(ctx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if s.Config.Bridge != nil {
			if err := s.Config.Bridge.Stop(ctx); err != nil {
				klog.ErrorS(err, "Failed to stop mqtt bridge")
			}
		}
		// closing the event bus ends open event streams before the server drains
		if err := s.Config.PanelMgr.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "Failed to shutdown panel")
		}
		if err := srv.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "Failed to shutdown server")
		}
	}, nil
}
