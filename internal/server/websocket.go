// Package server provides the WebSocket bridge that mirrors the tuner
// display in a browser and accepts selection changes from it.
package server

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// newUpgrader returns an upgrader that accepts same-host, loopback and
// private-network origins only.
func newUpgrader(logger *zap.Logger) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, logger)
		},
	}
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request, logger *zap.Logger) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		logger.Warn("rejected websocket connection: invalid origin", zap.String("origin", origin))
		return false
	}
	host := u.Hostname()

	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	logger.Warn("rejected websocket connection", zap.String("origin", origin), zap.String("host", host))
	return false
}
