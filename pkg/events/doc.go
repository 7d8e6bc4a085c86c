/*
Package events is an in-process pub/sub bus for lifecycle occurrences —
task transitions, artifact emissions, webhook delivery outcomes. It is
deliberately separate from pkg/push: push.Manager notifies external
webhooks with retries and at-least-once delivery semantics; Broker fans
events out to in-process subscribers (metrics, audit logging) on a
best-effort, drop-if-full basis. Losing an Event here costs a metric tick,
not a customer-visible notification.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			log.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()
*/
package events
