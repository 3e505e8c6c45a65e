// Package measclient subscribes to a gateway's /ws stream of measurement
// messages.
package measclient

import (
	"net/url"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	// Gateways push at least a ping this often
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// GatewayURL builds the websocket URL of a gateway host.
func GatewayURL(host string, tlsEnabled bool) url.URL {
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	return url.URL{Scheme: scheme, Host: host, Path: "/ws"}
}

// retryDelay is the exponential backoff before attempt retryCount+1.
func retryDelay(retryCount int) time.Duration {
	if retryCount > 5 {
		return maxRetryDelay
	}
	delay := time.Duration(1<<retryCount) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// Manage websocket connection and call funcToCall for each message.
// Returns when stop is closed or the gateway stayed unreachable for
// maxRetries attempts.
func StartListener(u url.URL, stop <-chan struct{}, funcToCall func(msg *meas.MeasMsg)) {
	retryCount := 0

	for {
		select {
		case <-stop:
			log.Info("Stop received, shutting down...")
			return
		default:
		}

		if retryCount > 0 {
			delay := retryDelay(retryCount)
			log.Infof("Retrying connection in %v... (attempt %d/%d)", delay, retryCount+1, maxRetries)
			select {
			case <-time.After(delay):
			case <-stop:
				log.Info("Stop received during retry wait, shutting down...")
				return
			}
		}

		log.Infof("Connecting to %s", u.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.Dial(u.String(), nil)
		if err != nil {
			log.Warnf("Connection failed: %v", err)
			retryCount++
			if retryCount >= maxRetries {
				log.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
				return
			}
			continue
		}

		log.Info("Connected! Accepting measurement messages.")
		retryCount = 0

		connectionBroken := handleConnection(c, stop, funcToCall)
		c.Close()

		if !connectionBroken {
			// Clean shutdown requested
			return
		}

		log.Warn("Connection lost, will retry...")
		retryCount = 1
	}
}

func handleConnection(
	c *websocket.Conn,
	stop <-chan struct{},
	funcToCall func(msg *meas.MeasMsg),
) bool {
	done := make(chan struct{})

	// Set read deadline to detect dead connections
	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("WebSocket error: %v", err)
				} else {
					log.Infof("Connection closed: %v", err)
				}
				return
			}

			// Reset read deadline on successful message
			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if msg := meas.MeasMsgFromJsonBytes(message); msg != nil {
				funcToCall(msg)
			} else {
				log.Warnf("Failed to parse measurement message: %s", string(message))
			}
		}
	}()

	// Send periodic pings to keep connection alive
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			// Connection broke
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warnf("Failed to send ping: %v", err)
			}
		case <-stop:
			log.Info("Stop received, closing connection...")

			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Warn("Error sending close message", "err", err)
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
