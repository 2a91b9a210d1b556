package ipcflow

import (
	runtimepkg "github.com/drblury/ipcflow/internal/runtime"
	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	eventspkg "github.com/drblury/ipcflow/internal/runtime/events"
	idspkg "github.com/drblury/ipcflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/ipcflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/ipcflow/internal/runtime/metrics"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
	"github.com/drblury/ipcflow/transport"
	"github.com/drblury/ipcflow/transport/ipc"
)

type (
	Server = runtimepkg.Server
	Client = runtimepkg.Client
	Option = runtimepkg.Option
	State  = runtimepkg.State

	ServerConfig = configpkg.ServerConfig
	ClientConfig = configpkg.ClientConfig
	Config       = configpkg.Config

	Event        = eventspkg.Event
	Handler      = eventspkg.Handler
	Subscription = eventspkg.Subscription

	Transcoder      = transcoder.Transcoder
	MessageWrapper  = transcoder.MessageWrapper
	Encoder         = transcoder.Encoder
	Decoder         = transcoder.Decoder
	Encoding        = transcoder.Encoding
	JSONTranscoder  = transcoder.JSON
	ProtoTranscoder = transcoder.Proto
	FrameBuffer     = transcoder.FrameBuffer

	Metrics = metricspkg.Metrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	ValidationError       = errspkg.ValidationError
	DecodeError           = errspkg.DecodeError
	EncodeError           = errspkg.EncodeError
	HandlerError          = errspkg.HandlerError
	SendError             = errspkg.SendError
	SendAfterCloseError   = errspkg.SendAfterCloseError
	NoServerError         = errspkg.NoServerError
	BadClientError        = errspkg.BadClientError

	// Watermill bridge
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	WatermillEndpoint     = ipc.Endpoint
)

var (
	NewServer = runtimepkg.NewServer
	NewClient = runtimepkg.NewClient

	WithLogger         = runtimepkg.WithLogger
	WithTranscoder     = runtimepkg.WithTranscoder
	WithMetrics        = runtimepkg.WithMetrics
	WithTracerProvider = runtimepkg.WithTracerProvider
	WithRetryBackOff   = runtimepkg.WithRetryBackOff

	ValidateSocketFile = configpkg.ValidateSocketFile
	ValidateConfig     = configpkg.ValidateConfig
	LoadConfig         = configpkg.Load
	DefaultConfig      = configpkg.Default

	TopicEvent = eventspkg.TopicEvent

	DefaultTranscoder = transcoder.Default
	TranscoderByName  = transcoder.ByName
	NewFrameBuffer    = transcoder.NewFrameBuffer
	NewMetrics        = metricspkg.New
	CreateULID        = idspkg.CreateULID

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	// Watermill bridge
	ServerEndpoint           = ipc.ServerEndpoint
	ClientEndpoint           = ipc.ClientEndpoint
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrInvalidSocketFile = errspkg.ErrInvalidSocketFile
	ErrDecode            = errspkg.ErrDecode
	ErrHandler           = errspkg.ErrHandler
	ErrClosed            = errspkg.ErrClosed
	ErrRetriesExhausted  = errspkg.ErrRetriesExhausted
	ErrSend              = errspkg.ErrSend
	ErrSendAfterClose    = errspkg.ErrSendAfterClose
	ErrNoServer          = errspkg.ErrNoServer
	ErrBadClient         = errspkg.ErrBadClient
	ErrEncode            = errspkg.ErrEncode
)

// Client lifecycle states.
const (
	StateCreated      = runtimepkg.StateCreated
	StateConnecting   = runtimepkg.StateConnecting
	StateConnected    = runtimepkg.StateConnected
	StateReconnecting = runtimepkg.StateReconnecting
	StateClosed       = runtimepkg.StateClosed
)

// Event names. Topic-specific events are named with TopicEvent.
const (
	EventListening       = eventspkg.Listening
	EventConnection      = eventspkg.Connection
	EventConnectionClose = eventspkg.ConnectionClose
	EventMessage         = eventspkg.Message
	EventMessageError    = eventspkg.MessageError
	EventError           = eventspkg.Error
	EventClose           = eventspkg.Close
	EventConnect         = eventspkg.Connect
	EventReconnect       = eventspkg.Reconnect
	EventConnectError    = eventspkg.ConnectError
	EventDisconnect      = eventspkg.Disconnect
)

const (
	DefaultRetryDelay     = configpkg.DefaultRetryDelay
	DefaultReconnectDelay = configpkg.DefaultReconnectDelay

	// ClientIDMetadataKey holds the sender's client id on messages received
	// through a server-side Watermill subscriber.
	ClientIDMetadataKey = ipc.ClientIDKey
)
