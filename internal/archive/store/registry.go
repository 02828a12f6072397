package store

import (
	"fmt"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/message"
)

// Deps are the collaborators shared by every store.
type Deps struct {
	Archive Archive
	Bus     Subscriber

	// AggregateWindow and PercentileAccuracy configure the channel
	// aggregate stores.
	AggregateWindow    time.Duration
	PercentileAccuracy float64
}

// channelTopics maps channel value and aggregate stores to their topic.
var channelTopics = map[types.Identifier]string{
	types.ChannelValue:            message.TopicChannelValue,
	types.HeaderChannelValue:      message.TopicHeaderChannelValue,
	types.MonitorChannelValue:     message.TopicMonitorChannelValue,
	types.SseChannelValue:         message.TopicSseChannelValue,
	types.ChannelAggregate:        message.TopicChannelValue,
	types.HeaderChannelAggregate:  message.TopicHeaderChannelValue,
	types.MonitorChannelAggregate: message.TopicMonitorChannelValue,
	types.SseChannelAggregate:     message.TopicSseChannelValue,
}

// New builds the store for cfg.ID.
func New(cfg Config, deps Deps) (Store, error) {
	switch id := cfg.ID; id {
	case types.ChannelValue, types.HeaderChannelValue, types.MonitorChannelValue, types.SseChannelValue:
		return build[*message.ChannelValue](cfg, newChannelFormatter(channelTopics[id]), deps)

	case types.ChannelAggregate, types.HeaderChannelAggregate, types.MonitorChannelAggregate, types.SseChannelAggregate:
		f := newAggregateFormatter(channelTopics[id], deps.AggregateWindow, deps.PercentileAccuracy)
		return build[*message.ChannelValue](cfg, f, deps)

	case types.Evr:
		return build[*message.Evr](cfg, &evrFormatter{topic: message.TopicEvr}, deps)
	case types.SseEvr:
		return build[*message.Evr](cfg, &evrFormatter{topic: message.TopicSseEvr}, deps)

	case types.Packet:
		return build[*message.Packet](cfg, &packetFormatter{topic: message.TopicPacket}, deps)
	case types.SsePacket:
		return build[*message.Packet](cfg, &packetFormatter{topic: message.TopicSsePacket}, deps)

	case types.Frame:
		return build[*message.Frame](cfg, &frameFormatter{}, deps)
	case types.CommandMessage:
		return build[*message.Command](cfg, &commandFormatter{}, deps)
	case types.LogMessage:
		return build[*message.Log](cfg, &logFormatter{}, deps)
	case types.Product:
		return build[*message.Product](cfg, &productFormatter{}, deps)
	case types.CfdpIndication:
		return build[*message.CfdpIndication](cfg, &cfdpIndicationFormatter{}, deps)
	case types.CfdpPdu:
		return build[*message.CfdpPdu](cfg, &cfdpPduFormatter{}, deps)

	default:
		return nil, fmt.Errorf("%s: %w", id, errors.ErrUnknownIdentifier)
	}
}

func build[T any](cfg Config, f Formatter[T], deps Deps) (Store, error) {
	b, err := NewBase(cfg, f, deps.Archive, deps.Bus)
	if err != nil {
		return nil, err
	}
	return b, nil
}
