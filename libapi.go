package hookd

import (
	runtimepkg "github.com/drblury/hookd/internal/runtime"
	configpkg "github.com/drblury/hookd/internal/runtime/config"
	emitpkg "github.com/drblury/hookd/internal/runtime/emit"
	envelopepkg "github.com/drblury/hookd/internal/runtime/envelope"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/gitctx"
	idspkg "github.com/drblury/hookd/internal/runtime/ids"
	jsoncodec "github.com/drblury/hookd/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookd/internal/runtime/metadata"
	metricspkg "github.com/drblury/hookd/internal/runtime/metrics"
	publisherpkg "github.com/drblury/hookd/internal/runtime/publisher"
	transportpkg "github.com/drblury/hookd/internal/runtime/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Status              = runtimepkg.Status
	ResourceUsage       = runtimepkg.ResourceUsage

	HookEnvelope      = envelopepkg.HookEnvelope
	RepoContext       = envelopepkg.RepoContext
	ToolMutationEvent = envelopepkg.ToolMutationEvent

	PublisherState = publisherpkg.State
	PublisherStats = publisherpkg.Stats
	Dialer         = transportpkg.Dialer
	DialerFunc     = transportpkg.DialerFunc

	GitRunner     = gitctx.Runner
	ExecGitRunner = gitctx.ExecRunner

	EmitClient = emitpkg.Client

	Metadata = metadatapkg.Metadata
	Metrics  = metricspkg.Metrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	DecodeError           = envelopepkg.DecodeError
	BindError             = errspkg.BindError
	QueryError            = errspkg.QueryError
	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	NewService         = runtimepkg.NewService
	LoadConfig         = configpkg.Load
	DefaultConfig      = configpkg.Default
	ValidateConfig     = configpkg.ValidateConfig
	NormalizeAMQPVhost = configpkg.NormalizeAMQPVhost

	DecodeEnvelope = envelopepkg.Decode
	EventTypeFor   = envelopepkg.EventTypeFor

	NewDialer        = transportpkg.NewDialer
	NewChannelDialer = transportpkg.NewChannelDialer

	BuildEnvelope = emitpkg.BuildEnvelope
	Forward       = emitpkg.Forward

	NewMetrics = metricspkg.New

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrDecode           = errspkg.ErrDecode
	ErrUnattributable   = errspkg.ErrUnattributable
	ErrExternalQuery    = errspkg.ErrExternalQuery
	ErrQueueFull        = errspkg.ErrQueueFull
	ErrPublisherStopped = errspkg.ErrPublisherStopped
	ErrBrokerConnection = errspkg.ErrBrokerConnection
	ErrBind             = errspkg.ErrBind
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	CreateULID       = idspkg.CreateULID
	NewCorrelationID = idspkg.NewCorrelationID
)

// Metadata keys carried as AMQP headers on every event.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyAgentID       = metadatapkg.KeyAgentID
	MetadataKeyHookType      = metadatapkg.KeyHookType
	MetadataKeyToolName      = metadatapkg.KeyToolName
	MetadataKeyGitRoot       = metadatapkg.KeyGitRoot
	MetadataKeyBranch        = metadatapkg.KeyBranch
	MetadataKeyRemoteURL     = metadatapkg.KeyRemoteURL
	MetadataKeyFileExt       = metadatapkg.KeyFileExt
)

const (
	TransportAMQP    = configpkg.TransportAMQP
	TransportChannel = configpkg.TransportChannel
	TransportIO      = configpkg.TransportIO
	TransportHTTP    = configpkg.TransportHTTP
	TransportNATS    = configpkg.TransportNATS
)

const (
	PublisherDisconnected     = publisherpkg.StateDisconnected
	PublisherConnecting       = publisherpkg.StateConnecting
	PublisherExchangeDeclared = publisherpkg.StateExchangeDeclared
	PublisherPublishing       = publisherpkg.StatePublishing
	PublisherStopped          = publisherpkg.StateStopped
)

// EventTypePrefix prefixes every published routing key.
const EventTypePrefix = envelopepkg.EventTypePrefix
