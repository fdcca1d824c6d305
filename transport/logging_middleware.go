package transport

import "github.com/wintlu/stereo-play/logger"

// LoggingMiddleware is the concrete debug tee the Middleware hook (§9)
// exists for: it logs every envelope a connection sends or receives at
// debug level, without the dispatcher or the read/write pumps knowing
// logging is happening. Stateless, so one instance is shared by every
// connection.
type LoggingMiddleware struct{}

func (LoggingMiddleware) OnReceive(clientID string, raw []byte) {
	logger.Debug("ws recv", logger.String("client", clientID), logger.String("payload", string(raw)))
}

func (LoggingMiddleware) OnSend(clientID string, raw []byte) {
	logger.Debug("ws send", logger.String("client", clientID), logger.String("payload", string(raw)))
}
