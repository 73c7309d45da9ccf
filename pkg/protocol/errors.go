package protocol

// Error codes shared by both ends of the drone link.
// Uses byte values to keep them cheap to pass around and log.
const (
	// General errors (0-9)
	ErrNone            byte = 0 // Operation completed successfully
	ErrInvalidArgument byte = 1 // Argument out of range or nil
	ErrContextCanceled byte = 2 // Context canceled

	// Queue errors (10-19)
	ErrWouldBlock  byte = 10 // Lock contended in non-waiting mode
	ErrQueueFull   byte = 11 // No free slot for a non-waiting push
	ErrQueueEmpty  byte = 12 // No item for a non-waiting pop
	ErrQueueClosed byte = 13 // Queue closed for shutdown

	// Connection errors (20-29)
	ErrConnectionClosed byte = 20 // Peer closed the link
	ErrConnectionFailed byte = 21 // Dial or handshake failed
	ErrSendFailed       byte = 22 // Frame transmission failed
	ErrReceiveTimeout   byte = 23 // No frame within the deadline
	ErrLoginRejected    byte = 24 // Peer refused the login exchange

	// Message errors (30-39)
	ErrInvalidMessage byte = 30 // Malformed frame layout
	ErrUnknownModule  byte = 31 // Module field not recognized
	ErrUnknownCode    byte = 32 // Code unknown or wrong for its module

	// Stream errors (40-49)
	ErrStreamRejected byte = 40 // Drone reported a stream fault
)

// ErrToString maps error codes to human-readable messages for logging.
var ErrToString = map[byte]string{
	ErrNone:            "no error",
	ErrInvalidArgument: "invalid argument",
	ErrContextCanceled: "context canceled",

	ErrWouldBlock:  "operation would block",
	ErrQueueFull:   "queue full",
	ErrQueueEmpty:  "queue empty",
	ErrQueueClosed: "queue closed",

	ErrConnectionClosed: "connection closed",
	ErrConnectionFailed: "connection failed",
	ErrSendFailed:       "failed to send frame",
	ErrReceiveTimeout:   "receive timed out",
	ErrLoginRejected:    "login rejected",

	ErrInvalidMessage: "malformed message",
	ErrUnknownModule:  "unknown module",
	ErrUnknownCode:    "unknown code",

	ErrStreamRejected: "stream rejected by drone",
}
