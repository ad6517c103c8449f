package metrics

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var (
	MOutgoingMsgs = stats.Int64("floodbus/outgoing_msg_size", "Outgoing message size", "By")
	MIncomingMsgs = stats.Int64("floodbus/incoming_msg_size", "Incoming message size", "By")
	MPublished    = stats.Int64("floodbus/published", "Number of messages published by this node", "1")
	MForwarded    = stats.Int64("floodbus/forwarded", "Number of received messages relayed to neighbours", "1")
	MDuplicates   = stats.Int64("floodbus/duplicates", "Number of received messages already seen", "1")
	MDelivered    = stats.Int64("floodbus/delivered", "Number of payloads handed to handlers", "1")
	MDropped      = stats.Int64("floodbus/dropped", "Number of deliveries dropped on a full queue", "1")
	MSendErrors   = stats.Int64("floodbus/send_errors", "Number of failed sends to neighbours", "1")

	OutgoingMsgCountView = &view.View{
		Name:        "floodbus/outgoing_msg_count",
		Description: "Number of outgoing messages sent",
		Measure:     MOutgoingMsgs,
		Aggregation: view.Count(),
	}

	OutgoingMsgSizeView = &view.View{
		Name:        "floodbus/outgoing_msg_size",
		Description: "Sizes of outgoing messages sent",
		Measure:     MOutgoingMsgs,
		Aggregation: view.Distribution(0, 128, 512, 1024, 1024*1024),
	}

	IncomingMsgCountView = &view.View{
		Name:        "floodbus/incoming_msg_count",
		Description: "Number of incoming messages received",
		Measure:     MIncomingMsgs,
		Aggregation: view.Count(),
	}

	IncomingMsgSizeView = &view.View{
		Name:        "floodbus/incoming_msg_size",
		Description: "Sizes of incoming messages received",
		Measure:     MIncomingMsgs,
		Aggregation: view.Distribution(0, 128, 512, 1024, 1024*1024),
	}

	PublishedView  = countView(MPublished)
	ForwardedView  = countView(MForwarded)
	DuplicatesView = countView(MDuplicates)
	DeliveredView  = countView(MDelivered)
	DroppedView    = countView(MDropped)
	SendErrorsView = countView(MSendErrors)
)

func countView(m *stats.Int64Measure) *view.View {
	return &view.View{
		Name:        m.Name(),
		Description: m.Description(),
		Measure:     m,
		Aggregation: view.Sum(),
	}
}

// Views returns every view defined by this package.
func Views() []*view.View {
	return []*view.View{
		OutgoingMsgCountView,
		OutgoingMsgSizeView,
		IncomingMsgCountView,
		IncomingMsgSizeView,
		PublishedView,
		ForwardedView,
		DuplicatesView,
		DeliveredView,
		DroppedView,
		SendErrorsView,
	}
}

func Register() error {
	return view.Register(Views()...)
}

func Unregister() {
	view.Unregister(Views()...)
}
