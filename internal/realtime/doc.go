// Package realtime is the entry point features use to talk to the content
// studio over one shared connection.
//
// A Client owns the connection; each feature (script generation, content
// analysis, trend monitoring, notifications) takes a Subscription:
//
//	client := realtime.NewFromConfig(cfg, logger, metrics)
//	if err := client.Connect(ctx); err != nil {
//	    // retries continue in the background
//	}
//
//	sub, _ := client.Subscribe(realtime.Callbacks{
//	    OnMessage: func(env protocol.Envelope) { ... },
//	    OnError:   func(err error) { ... },
//	})
//	defer sub.Close()
//
//	streamID, err := sub.StartStream(protocol.KindScriptGeneration, map[string]any{
//	    "topic": "AI", "platform": "youtube", "duration": 60,
//	})
//
// Messages of a stream reach only the subscription that started it.
// Envelopes without a streamId and connection events reach everyone.
// Streams are not resumed after a reconnect: they fail with
// ErrConnectionLost and the feature decides whether to start again.
package realtime
